package item

import (
	"crypto/sha256"

	"go.mongodb.org/mongo-driver/bson"
)

// Marshal encodes an item using the BSON wire format of spec.md §6.2.
func Marshal(it Item) ([]byte, error) {
	return bson.Marshal(it)
}

// Unmarshal decodes an item from its BSON wire format.
func Unmarshal(data []byte) (Item, error) {
	var it Item
	if err := bson.Unmarshal(data, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// ContentVersion computes the deterministic merge/fresh-write version of
// spec.md §4.G: SHA-256 of the BSON-serialized item with H.V cleared
// (it does not exist yet), truncated to size bytes.
func ContentVersion(it Item, size int) (Version, error) {
	if size <= 0 || size > MaxVersionSize {
		size = DefaultVersionSize
	}
	unversioned := it
	unversioned.H.V = nil
	data, err := bson.Marshal(unversioned)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return NewVersion(sum[:size])
}
