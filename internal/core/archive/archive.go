package archive

import "context"

// Store keeps copies of signed packages and CDRs.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Key builds the object key for a file under prefix and taxpayer.
func Key(prefix, ruc, name string) string {
	if prefix == "" {
		return ruc + "/" + name
	}
	return prefix + "/" + ruc + "/" + name
}
