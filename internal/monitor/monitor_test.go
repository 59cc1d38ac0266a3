package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/catalog"
)

func TestAllServicesDeduplicates(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	services := allServices(cat)
	seen := make(map[catalog.ServiceID]int)
	for _, s := range services {
		seen[s.ServiceID]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "service %s listed more than once", id)
	}
}

func TestRecordObservationRetryBeforeTransition(t *testing.T) {
	m := &Monitor{
		retryAttempts:    3,
		observations:     make(map[catalog.ServiceID]Observation),
		consecutiveFails: make(map[catalog.ServiceID]int),
	}

	m.recordObservation("svc", Observation{ServiceID: "svc", Health: HealthHealthy})

	for i := 0; i < 2; i++ {
		m.recordObservation("svc", Observation{ServiceID: "svc", Health: HealthUnhealthy})
		obs, _ := m.Observe("svc")
		assert.Equal(t, HealthHealthy, obs.Health, "should stay healthy before retryAttempts consecutive failures")
	}

	m.recordObservation("svc", Observation{ServiceID: "svc", Health: HealthUnhealthy})
	obs, _ := m.Observe("svc")
	assert.Equal(t, HealthUnhealthy, obs.Health, "should flip after retryAttempts consecutive failures")
}

func TestRecordObservationRecoversImmediately(t *testing.T) {
	m := &Monitor{
		retryAttempts:    3,
		observations:     make(map[catalog.ServiceID]Observation),
		consecutiveFails: make(map[catalog.ServiceID]int),
	}
	m.recordObservation("svc", Observation{ServiceID: "svc", Health: HealthUnhealthy})
	m.recordObservation("svc", Observation{ServiceID: "svc", Health: HealthHealthy})
	obs, _ := m.Observe("svc")
	assert.Equal(t, HealthHealthy, obs.Health)
}
