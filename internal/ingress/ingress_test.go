package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kvnkishore11/agentickanban/pkg/models"
)

func TestStageFromPhase_RecognizesEveryPipelineStage(t *testing.T) {
	cases := map[string]models.Stage{
		"plan":           models.StagePlan,
		"build":          models.StageBuild,
		"test":           models.StageTest,
		"review":         models.StageReview,
		"document":       models.StageDocument,
		"ready-to-merge": models.StageReadyToMerge,
		"completed":      models.StageCompleted,
		"errored":        models.StageErrored,
	}
	for phase, want := range cases {
		assert.Equal(t, want, stageFromPhase(phase))
	}
}

func TestStageFromPhase_UnknownPhaseYieldsEmptyStage(t *testing.T) {
	assert.Equal(t, models.Stage(""), stageFromPhase("teleporting"))
}

func TestMarshalJSON_RoundTrips(t *testing.T) {
	raw, err := marshalJSON(map[string]interface{}{"a": 1.0})
	assert.NoError(t, err)
	assert.Contains(t, string(raw), `"a":1`)
}
