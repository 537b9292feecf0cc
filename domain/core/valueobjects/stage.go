package valueobjects

import (
	"fmt"
)

// Stage is the pipeline step a card represents
type Stage string

const (
	StageProblem          Stage = "problem"
	StageTask             Stage = "task"
	StageData             Stage = "data"
	StageModel            Stage = "model"
	StageTrain            Stage = "train"
	StageTest             Stage = "test"
	StageDeploy           Stage = "deploy"
	StageDesign           Stage = "design"
	StageDevelop          Stage = "develop"
	StageModelEvaluation  Stage = "modelEvaluation"
	StageModelDevelopment Stage = "modelDevelopment"
	StageMLOps            Stage = "MLOps"
	StageFeedback         Stage = "feedback"
	StageProblemDef       Stage = "problemDef"
)

// NoPrompt is shown for stages that have no guidance text
const NoPrompt = "No prompt available"

var allStages = []Stage{
	StageProblem, StageTask, StageData, StageModel, StageTrain, StageTest, StageDeploy,
	StageDesign, StageDevelop, StageModelEvaluation, StageModelDevelopment, StageMLOps,
	StageFeedback, StageProblemDef,
}

var stagePrompts = map[Stage]string{
	StageProblem:  "Brief the problem or challenge that can be solved by AI in simple words, highlighting its significance and potential impact on target users or stakeholders.",
	StageTask:     "Explain how AI focuses on the specific task that aims to solve the problem.",
	StageData:     "Describe how the data for training the AI system is collected and prepared in plain language, emphasizing the data preprocessing and any feature engineering technologies that are applied to the raw data.",
	StageModel:    "Explain what AI model architecture and algorithms are being used and  and their respective roles in simple terms.",
	StageTrain:    "Describe how the AI model learns from the data, and clarify the process of how it improves its performance.",
	StageTest:     "Explain how the AI model is evaluated and assessed for its effectiveness and accuracy, using plain words to highlight the testing process.",
	StageDeploy:   "Describe how the AI system is deployed in practical use, emphasizing the benefits and potential impact on users or stakeholders.",
	StageFeedback: "Explain how feedback is gathered from users or stakeholders to improve the AI system and highlight how it helps the iteration of AI development.",
}

// ParseStage converts a string into a known stage
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !stage.IsValid() {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return stage, nil
}

// AllStages lists every stage in display order
func AllStages() []Stage {
	out := make([]Stage, len(allStages))
	copy(out, allStages)
	return out
}

// IsValid reports whether the stage is one of the known stages
func (s Stage) IsValid() bool {
	for _, known := range allStages {
		if s == known {
			return true
		}
	}
	return false
}

// Prompt returns the fixed guidance text for the stage
func (s Stage) Prompt() string {
	if p, ok := stagePrompts[s]; ok {
		return p
	}
	return NoPrompt
}

// String returns the string representation
func (s Stage) String() string {
	return string(s)
}
