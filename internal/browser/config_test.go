package browser

import (
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/ysmood/gson"
)

func TestConfigDefaults(t *testing.T) {
	var zero Config
	assert.Equal(t, 390, zero.GetViewportWidth())
	assert.Equal(t, 844, zero.GetViewportHeight())
	assert.Equal(t, 30*time.Second, zero.GetNavigationTimeout())

	cfg := DefaultConfig()
	assert.True(t, cfg.Mobile)
	assert.Equal(t, float64(3), deviceScale(cfg.Mobile))
	assert.Equal(t, float64(1), deviceScale(false))
}

func TestResultFrom(t *testing.T) {
	assert.True(t, resultFrom(nil).Undefined)
	assert.True(t, resultFrom(&proto.RuntimeRemoteObject{Type: proto.RuntimeRemoteObjectTypeUndefined}).Undefined)

	null := resultFrom(&proto.RuntimeRemoteObject{Type: proto.RuntimeRemoteObjectTypeObject, Subtype: proto.RuntimeRemoteObjectSubtypeNull})
	assert.Equal(t, "null", null.String())

	inf := resultFrom(&proto.RuntimeRemoteObject{Type: proto.RuntimeRemoteObjectTypeNumber, UnserializableValue: "Infinity"})
	assert.Equal(t, "Infinity", inf.String())

	num := resultFrom(&proto.RuntimeRemoteObject{Type: proto.RuntimeRemoteObjectTypeNumber, Value: gson.New(2)})
	assert.Equal(t, "2", num.String())

	fn := resultFrom(&proto.RuntimeRemoteObject{Type: proto.RuntimeRemoteObjectTypeFunction, Description: "function f() {}"})
	assert.Equal(t, "function f() {}", fn.String())
}

func TestExceptionMessage(t *testing.T) {
	d := &proto.RuntimeExceptionDetails{
		Text:      "Uncaught",
		Exception: &proto.RuntimeRemoteObject{Description: "ReferenceError: x is not defined\n    at <anonymous>:1:1"},
	}
	assert.Equal(t, "ReferenceError: x is not defined", exceptionMessage(d))
	assert.Equal(t, "Uncaught", exceptionMessage(&proto.RuntimeExceptionDetails{Text: "Uncaught"}))
}
