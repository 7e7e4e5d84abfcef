package courier_test

import (
	"testing"

	"github.com/shipbridge/courier-gateway/pkg/courier"
	"github.com/stretchr/testify/assert"
)

func TestStatus_IsTerminal(t *testing.T) {
	terminal := map[courier.Status]bool{
		courier.StatusDelivered: true,
		courier.StatusCancelled: true,
		courier.StatusReturned:  true,
	}

	for _, s := range courier.Statuses {
		assert.Equal(t, terminal[s], s.IsTerminal(), "status %s", s)
	}
}

func TestStatus_IsProblematic(t *testing.T) {
	problematic := map[courier.Status]bool{
		courier.StatusDeliveryFailed: true,
		courier.StatusException:      true,
	}

	for _, s := range courier.Statuses {
		assert.Equal(t, problematic[s], s.IsProblematic(), "status %s", s)
	}
}

func TestStatus_Label(t *testing.T) {
	assert.Equal(t, "Out for Delivery", courier.StatusOutForDelivery.Label())
	assert.Equal(t, "Returned to Sender", courier.StatusReturned.Label())
	assert.Equal(t, "Exception", courier.Status("bogus").Label())
}
