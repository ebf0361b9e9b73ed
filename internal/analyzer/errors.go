package analyzer

import (
	"fmt"

	pulleyerrors "github.com/arpa2/pulley/errors"
	"github.com/arpa2/pulley/internal/script"
)

func unboundVariableError(name string) error {
	return pulleyerrors.ErrInvariant.New(fmt.Sprintf("variable %q is never bound by a generator", name))
}

func unreferencedConditionError(c script.CndNum) error {
	return pulleyerrors.ErrInvariant.New(fmt.Sprintf("condition #%d references no variable", c))
}

func invariantDriverOutputError(d script.DrvNum) error {
	return pulleyerrors.ErrInvariant.New(fmt.Sprintf("driver-output #%d has no relevant variables", d))
}
