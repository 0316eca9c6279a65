package events

import rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"

func errNilDependency(component string) error {
	return rferrors.NewConfigError(component+" requires a non-nil registry and logger", nil)
}
