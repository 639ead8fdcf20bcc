package chronos_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newgrp/chronos/chronos"
)

func TestCollector(t *testing.T) {
	f := newFixture(t, nil, []result{fails(), returns(t0)})
	c := chronos.NewCollector(f.authority)

	assert.Error(t, f.authority.Initialize(context.Background()))
	require.NoError(t, f.authority.Initialize(context.Background()))

	assert.Equal(t, 7, testutil.CollectAndCount(c))

	expected := `
# HELP chronos_initialized 1 if the time authority is initialized, otherwise 0
# TYPE chronos_initialized gauge
chronos_initialized 1
# HELP chronos_resolutions_total Waterfall resolutions by outcome
# TYPE chronos_resolutions_total counter
chronos_resolutions_total{outcome="failure"} 1
chronos_resolutions_total{outcome="success"} 1
# HELP chronos_clock_regressions_total Resolved times that were not after the stored anchor
# TYPE chronos_clock_regressions_total counter
chronos_clock_regressions_total 0
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"chronos_initialized", "chronos_resolutions_total", "chronos_clock_regressions_total")
	assert.NoError(t, err)
}
