package mongodb

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Now is the current UTC time at the millisecond precision BSON dates keep,
// so a value read back compares equal to the one written
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// IsDuplicateKey reports a unique index violation, which the ledger uses to
// detect a credit for an already recorded source reference
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
