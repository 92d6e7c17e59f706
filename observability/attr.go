package observability

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/alphabill-org/linmem/trap"
)

const InstanceKey attribute.Key = "wasm.instance"

func Instance(handle string) attribute.KeyValue {
	return InstanceKey.String(handle)
}

/*
ErrStatus returns attribute named "status" with value "ok" if the param
err is nil and "err" when it is not.
*/
func ErrStatus(err error) attribute.KeyValue {
	status := "ok"
	if err != nil {
		status = "err"
	}
	return attribute.String("status", status)
}

/*
TrapCode returns attribute named "trap" with the trap code of the "err",
zero when the err is nil or not a trap.
*/
func TrapCode(err error) attribute.KeyValue {
	return attribute.Int("trap", int(trap.CodeOf(err)))
}
