package templates

import (
	"testing"

	"ailego/domain/core/valueobjects"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin(t *testing.T) {
	c := Builtin()

	assert.Equal(t, []string{"3-stage", "6-stage", "8-stage"}, c.Names())

	tests := []struct {
		name       string
		stages     int
		first      valueobjects.Stage
		last       valueobjects.Stage
		wantArrows int
	}{
		{name: "8-stage", stages: 8, first: valueobjects.StageProblem, last: valueobjects.StageFeedback, wantArrows: 7},
		{name: "6-stage", stages: 6, first: valueobjects.StageProblemDef, last: valueobjects.StageMLOps, wantArrows: 5},
		{name: "3-stage", stages: 3, first: valueobjects.StageDesign, last: valueobjects.StageDeploy, wantArrows: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, ok := c.Lookup(tt.name)
			require.True(t, ok)
			require.Len(t, tpl.Stages, tt.stages)
			assert.Equal(t, tt.first, tpl.Stages[0])
			assert.Equal(t, tt.last, tpl.Stages[len(tpl.Stages)-1])
			require.Len(t, tpl.Arrows, tt.wantArrows)
			assert.Equal(t, Arrow{From: 0, To: 1}, tpl.Arrows[0])
		})
	}

	_, ok := c.Lookup("12-stage")
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown stage", yaml: "templates:\n  - name: x\n    stages: [problem, sketch]\n"},
		{name: "duplicate name", yaml: "templates:\n  - name: x\n    stages: [data]\n  - name: x\n    stages: [data]\n"},
		{name: "bad arrow", yaml: "templates:\n  - name: x\n    stages: [data, model]\n    arrows:\n      - {from: 0, to: 5}\n"},
		{name: "missing name", yaml: "templates:\n  - stages: [data]\n"},
		{name: "not yaml", yaml: "templates: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_ExplicitArrows(t *testing.T) {
	c, err := Parse([]byte("templates:\n  - name: fan\n    stages: [data, model, train]\n    arrows:\n      - {from: 0, to: 1}\n      - {from: 0, to: 2}\n"))
	require.NoError(t, err)

	tpl, _ := c.Lookup("fan")
	assert.Equal(t, []Arrow{{From: 0, To: 1}, {From: 0, To: 2}}, tpl.Arrows)
}
