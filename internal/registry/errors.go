package registry

import (
	"errors"
	"fmt"

	"github.com/ncruces/go-sqlite3"
)

// ErrConflict is matched by errors.Is for any duplicate natural key failure.
var ErrConflict = errors.New("registry: conflict")

// ErrReferentialIntegrity is matched by errors.Is when an operation would
// violate a declared foreign key (deleting a model still referenced by an
// A/B test, or recording a result against unknown ids).
var ErrReferentialIntegrity = errors.New("registry: referential integrity violation")

// ConflictError reports a duplicate natural key on insert.
type ConflictError struct {
	Resource string // "model" or "ab_test"
	Key      string // "name:version" or test name
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Resource, e.Key)
}

// Is makes ConflictError match ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func isUniqueViolation(err error) bool {
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode() == sqlite3.CONSTRAINT_UNIQUE
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode() == sqlite3.CONSTRAINT_FOREIGNKEY
	}
	return false
}
