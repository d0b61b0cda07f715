package database

import (
	"errors"
	"fmt"

	"github.com/chatbridge/pkg/errs"
	"gorm.io/gorm"
)

// Translate maps gorm errors onto the shared taxonomy so callers never import
// gorm to tell a miss or a unique violation apart.
func Translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %w", errs.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", errs.ErrDuplicate, err)
	}
	return err
}
