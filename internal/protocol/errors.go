package protocol

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// RemoteCallError reports a failed or undecodable contract read.
type RemoteCallError struct {
	Contract common.Address
	Method   string
	Err      error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("call %s on %s: %v", e.Method, e.Contract.Hex(), e.Err)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}
