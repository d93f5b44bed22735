package swrcache

import (
	"fmt"
)

type CloseError struct {
	WaitErr  error
	StoreErr error
}

func (e *CloseError) Error() string {
	switch {
	case e.WaitErr != nil && e.StoreErr != nil:
		return fmt.Sprintf("close failed: refresh drain and store close failed: drain=%v; close=%v",
			e.WaitErr, e.StoreErr)
	case e.WaitErr != nil:
		return fmt.Sprintf("close: refresh drain failed: %v", e.WaitErr)
	case e.StoreErr != nil:
		return fmt.Sprintf("close: store close failed: %v", e.StoreErr)
	default:
		return "close: unknown error"
	}
}

func (e *CloseError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.WaitErr != nil {
		errs = append(errs, e.WaitErr)
	}
	if e.StoreErr != nil {
		errs = append(errs, e.StoreErr)
	}
	return errs
}
