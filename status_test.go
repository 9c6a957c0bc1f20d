package avdecc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstFailure(t *testing.T) {
	assert.Equal(t, AemStatusSuccess, FirstFailure(AemStatusSuccess, AemStatusSuccess))
	assert.Equal(t, AemStatusTimedOut, FirstFailure(AemStatusTimedOut, AemStatusSuccess))
	assert.Equal(t, AemStatusNoResources, FirstFailure(AemStatusSuccess, AemStatusNoResources))
	// The first failure wins over later ones.
	folded := FirstFailure(FirstFailure(AemStatusSuccess, AemStatusLockedByOther), AemStatusTimedOut)
	assert.Equal(t, AemStatusLockedByOther, folded)

	assert.Equal(t, ControlStatusTalkerExclusive, FirstFailure(ControlStatusTalkerExclusive, ControlStatusSuccess))
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "Success", AemStatusSuccess.String())
	assert.Equal(t, "AcquiredByOther", AemStatusAcquiredByOther.String())
	assert.Equal(t, "TimedOut", AemStatusTimedOut.String())
	assert.Equal(t, "Aborted", AaStatusAborted.String())
	assert.Equal(t, "BadArguments", MvuStatusBadArguments.String())
	assert.Equal(t, "ListenerTalkerTimeout", ControlStatusListenerTalkerTimeout.String())
	assert.Equal(t, "AemCommandStatus(500)", AemCommandStatus(500).String())
}

func TestErrorValues(t *testing.T) {
	// The numeric surface is part of the contract.
	assert.EqualValues(t, 0, ErrorNoError)
	assert.EqualValues(t, 1, ErrorTransportError)
	assert.EqualValues(t, 3, ErrorUnknownRemoteEntity)
	assert.EqualValues(t, 6, ErrorDuplicateLocalEntityID)
	assert.EqualValues(t, 10, ErrorMessageNotSupported)
	assert.EqualValues(t, 99, ErrorInternalError)
	assert.Equal(t, "unknown remote entity", ErrorUnknownRemoteEntity.Error())
}

func TestLibraryStatusesStayReserved(t *testing.T) {
	for _, s := range []AemCommandStatus{
		AemStatusNetworkError, AemStatusProtocolError, AemStatusTimedOut,
		AemStatusUnknownEntity, AemStatusInternalError,
	} {
		assert.GreaterOrEqual(t, uint16(s), uint16(libraryStatusBase))
	}
}
