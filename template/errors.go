package template

import "github.com/benoitc/gaffer/gerrors"

func invalidSpec(field, format string, args ...any) error {
	return gerrors.InvalidSpec(field, format, args...)
}
