package aggregation

import (
	"errors"
	"fmt"

	"example.com/biometrics/internal/domain"
)

var errNilRecord = errors.New("nil record")

type shapeMismatch struct {
	want domain.Shape
	got  domain.Shape
}

func (e shapeMismatch) Error() string {
	return fmt.Sprintf("expected %s record, got %s", e.want, e.got)
}
