// Package modules описывает каталог учебных модулей и формы их ответов.
package modules

import "errors"

// ErrUnknownModule модуля нет в каталоге.
var ErrUnknownModule = errors.New("unknown module")

// Kind идентификатор модуля.
type Kind string

const (
	CareerAssessment     Kind = "career_assessment"
	ResumeAnalysis       Kind = "resume_analysis"
	InterviewSimulation  Kind = "interview_simulation"
	SpreadsheetChallenge Kind = "spreadsheet_challenge"
	CaseStudy            Kind = "case_study"
)

// Module правила доступа к модулю. Cost списывается в режиме tokens.
type Module struct {
	Kind         Kind   `json:"kind"`
	Title        string `json:"title"`
	RequiresPaid bool   `json:"requires_paid"`
	Consumable   bool   `json:"consumable"`
	Cost         int64  `json:"cost"`
}

var catalog = []Module{
	{Kind: CareerAssessment, Title: "Career assessment", RequiresPaid: false, Consumable: false},
	{Kind: ResumeAnalysis, Title: "Resume analysis", RequiresPaid: true, Consumable: true, Cost: 10},
	{Kind: InterviewSimulation, Title: "Interview simulation", RequiresPaid: true, Consumable: true, Cost: 20},
	{Kind: SpreadsheetChallenge, Title: "Spreadsheet challenge", RequiresPaid: true, Consumable: true, Cost: 5},
	{Kind: CaseStudy, Title: "Case study", RequiresPaid: true, Consumable: true, Cost: 15},
}

// Catalog копия каталога в порядке показа.
func Catalog() []Module {
	out := make([]Module, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup ищет модуль по идентификатору.
func Lookup(kind Kind) (Module, error) {
	for _, m := range catalog {
		if m.Kind == kind {
			return m, nil
		}
	}
	return Module{}, ErrUnknownModule
}
