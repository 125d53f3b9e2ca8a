package modules

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TextField свободный текст ответа, который очищается перед отправкой
// во внешний сервис. Value указывает на поле структуры ответа.
type TextField struct {
	Name  string
	Value *string
}

// Submission ответ пользователя в одном из модулей.
type Submission interface {
	Kind() Kind
	TextFields() []TextField
}

type CareerAssessmentSubmission struct {
	Interests []string `json:"interests" validate:"required,min=1,max=20,dive,required,max=200"`
	Goals     string   `json:"goals" validate:"required,max=4000"`
}

func (s *CareerAssessmentSubmission) Kind() Kind { return CareerAssessment }

func (s *CareerAssessmentSubmission) TextFields() []TextField {
	fields := make([]TextField, 0, len(s.Interests)+1)
	for i := range s.Interests {
		fields = append(fields, TextField{Name: fmt.Sprintf("interests[%d]", i), Value: &s.Interests[i]})
	}
	return append(fields, TextField{Name: "goals", Value: &s.Goals})
}

type ResumeAnalysisSubmission struct {
	ResumeText string `json:"resume_text" validate:"required,max=20000"`
	TargetRole string `json:"target_role" validate:"required,max=200"`
}

func (s *ResumeAnalysisSubmission) Kind() Kind { return ResumeAnalysis }

func (s *ResumeAnalysisSubmission) TextFields() []TextField {
	return []TextField{
		{Name: "resume_text", Value: &s.ResumeText},
		{Name: "target_role", Value: &s.TargetRole},
	}
}

type InterviewSimulationSubmission struct {
	Role     string `json:"role" validate:"required,max=200"`
	Question string `json:"question" validate:"required,max=2000"`
	Answer   string `json:"answer" validate:"required,max=20000"`
}

func (s *InterviewSimulationSubmission) Kind() Kind { return InterviewSimulation }

func (s *InterviewSimulationSubmission) TextFields() []TextField {
	return []TextField{
		{Name: "role", Value: &s.Role},
		{Name: "question", Value: &s.Question},
		{Name: "answer", Value: &s.Answer},
	}
}

type SpreadsheetChallengeSubmission struct {
	ChallengeID string `json:"challenge_id" validate:"required,max=64"`
	Formula     string `json:"formula" validate:"required,max=2000"`
	Explanation string `json:"explanation" validate:"max=4000"`
}

func (s *SpreadsheetChallengeSubmission) Kind() Kind { return SpreadsheetChallenge }

func (s *SpreadsheetChallengeSubmission) TextFields() []TextField {
	return []TextField{
		{Name: "formula", Value: &s.Formula},
		{Name: "explanation", Value: &s.Explanation},
	}
}

type CaseStudySubmission struct {
	CaseID         string `json:"case_id" validate:"required,max=64"`
	Analysis       string `json:"analysis" validate:"required,max=20000"`
	Recommendation string `json:"recommendation" validate:"required,max=4000"`
}

func (s *CaseStudySubmission) Kind() Kind { return CaseStudy }

func (s *CaseStudySubmission) TextFields() []TextField {
	return []TextField{
		{Name: "analysis", Value: &s.Analysis},
		{Name: "recommendation", Value: &s.Recommendation},
	}
}

// Decode разбирает тело ответа в структуру модуля kind. Неизвестные
// поля считаются ошибкой.
func Decode(kind Kind, raw []byte) (Submission, error) {
	const op = "modules.Decode"
	var sub Submission
	switch kind {
	case CareerAssessment:
		sub = &CareerAssessmentSubmission{}
	case ResumeAnalysis:
		sub = &ResumeAnalysisSubmission{}
	case InterviewSimulation:
		sub = &InterviewSimulationSubmission{}
	case SpreadsheetChallenge:
		sub = &SpreadsheetChallengeSubmission{}
	case CaseStudy:
		sub = &CaseStudySubmission{}
	default:
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownModule, kind)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(sub); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}
