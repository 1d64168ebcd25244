package perr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_UnwrapAndErrorsAs(t *testing.T) {
	cause := errors.New("device busy")

	var transient *Transient
	err := error(NewTransient(KindTransport, cause))
	assert.ErrorAs(t, err, &transient)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")

	var permanent *Permanent
	err = NewPermanent(KindAuth, cause)
	assert.ErrorAs(t, err, &permanent)
	assert.Contains(t, err.Error(), "permanent")

	var fatal *Fatal
	err = NewFatal(KindQueue, cause)
	assert.ErrorAs(t, err, &fatal)
	assert.Contains(t, err.Error(), "fatal")
}

func TestErrors_DistinctTypesDontCrossMatch(t *testing.T) {
	var transient *Transient
	err := error(NewPermanent(KindTransport, errors.New("bad address")))
	assert.False(t, errors.As(err, &transient))
}
