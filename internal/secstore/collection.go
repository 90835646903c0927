package secstore

import (
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/infra/filestore"
)

// BindCollection installs an encrypting codec on col so its document is
// sealed under storeName before it touches disk. The store name feeds key
// derivation, so a file moved between stores stops decrypting on purpose.
func BindCollection[K comparable, V any](col *filestore.Collection[K, V], sec *Store, storeName string) {
	col.UseCodec(filestore.Codec{
		Encode: func(plain []byte) ([]byte, error) { return sec.Encrypt(storeName, plain) },
		Decode: func(frame []byte) ([]byte, error) { return sec.Decrypt(storeName, frame) },
	})
}
