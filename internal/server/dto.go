package server

import (
	"plazos/internal/deadline"
	"plazos/internal/domain"
	"plazos/internal/engine"
	"plazos/internal/rules"
)

// Request payloads

type DeadlineInput struct {
	Start           string   `json:"start,omitempty" example:"2025-07-25"`
	Country         string   `json:"country,omitempty" example:"PE"`
	Domain          string   `json:"domain,omitempty" example:"civil"`
	Act             string   `json:"act,omitempty" example:"apelacion"`
	Quantity        *float64 `json:"quantity,omitempty"`
	Type            string   `json:"type,omitempty" enum:"business,calendar"`
	HolidayOverride []string `json:"holiday_override,omitempty" nullable:"true"`
	CarryIfInhabil  *bool    `json:"carry_if_inhabil,omitempty"`
	TZ              string   `json:"tz,omitempty"`
}

func (in DeadlineInput) toInput() deadline.Input {
	return deadline.Input{
		Start:           in.Start,
		Country:         in.Country,
		Domain:          in.Domain,
		Act:             in.Act,
		Quantity:        in.Quantity,
		Type:            in.Type,
		HolidayOverride: in.HolidayOverride,
		Carry:           in.CarryIfInhabil,
		TZ:              in.TZ,
	}
}

type AgendaRequest struct {
	CaseRef       string   `json:"case_ref,omitempty"`
	Title         string   `json:"title,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	MinutesBefore []int    `json:"minutes_before,omitempty"`
	NotifyTo      string   `json:"notify_to,omitempty"`
}

type ScheduleDeadlineRequest struct {
	DeadlineInput
	Agenda AgendaRequest `json:"agenda"`
}

type CreateEventRequest struct {
	Title         string   `json:"title"`
	When          string   `json:"when" example:"2025-06-04T14:00:00-05:00"`
	Notes         string   `json:"notes,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	CaseRef       string   `json:"case_ref,omitempty"`
	TZ            string   `json:"tz,omitempty"`
	MinutesBefore []int    `json:"minutes_before,omitempty"`
	NotifyTo      string   `json:"notify_to,omitempty"`
}

type MuteEventRequest struct {
	Muted bool `json:"muted"`
}

type RescheduleEventRequest struct {
	When string `json:"when"`
}

// Response payloads

type ComputationResponse struct {
	Computation deadline.Computation `json:"computation"`
}

type ScheduleDeadlineResponse = engine.ComputeResponse

type EventListResponse struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type ResolutionResponse struct {
	RulesetID string       `json:"ruleset_id"`
	Trail     []string     `json:"trail"`
	MergedAct string       `json:"merged_act,omitempty"`
	Workweek  string       `json:"workweek"`
	Config    rules.Config `json:"config"`
}

func resolutionResponse(res rules.Resolution) ResolutionResponse {
	return ResolutionResponse{
		RulesetID: res.RulesetID,
		Trail:     res.Trail,
		MergedAct: res.MergedAct,
		Workweek:  res.Config.WorkweekName(),
		Config:    res.Config,
	}
}
