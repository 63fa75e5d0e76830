// Package models defines the core data structures for labbot.
//
// It includes sender profiles, conversation stages, sessions, the typed records
// read from the lab's spreadsheets and the inbound/outbound message envelopes
// shared across modules.
package models

import (
	"errors"
)

// Profile is the identified role of a sender.
type Profile string

const (
	// ProfileAdmin is a lab operator listed in ADM_BOT.
	ProfileAdmin Profile = "admin"
	// ProfileClient is a dentist listed in CLIENTES.
	ProfileClient Profile = "client"
	// ProfileUnknown is any sender not found in the registry.
	ProfileUnknown Profile = "unknown"
)

// IsValidProfile checks if the given profile is supported.
func IsValidProfile(p Profile) bool {
	switch p {
	case ProfileAdmin, ProfileClient, ProfileUnknown:
		return true
	default:
		return false
	}
}

// Stage is a named point in a profile's conversation graph.
type Stage string

// Admin stages.
const (
	StageAdminMenu     Stage = "menu_admin"
	StageAdminDeadline Stage = "menu_admin_prazo"
	StageAdminStatus   Stage = "menu_admin_status"
	StageAdminClients  Stage = "menu_admin_pedidos"
	StageAdminRegistry Stage = "menu_admin_cadastros"
)

// Client stages.
const (
	StageClientMenu    Stage = "inicio"
	StageOrderPatient  Stage = "novo_pedido_paciente"
	StageOrderProduct  Stage = "novo_pedido_produto"
	StageOrderQuantity Stage = "novo_pedido_qtde"
	StageOrderColor    Stage = "novo_pedido_cor"
	StageOrderItemMenu Stage = "novo_pedido_menu_item"
	StageOrderNote     Stage = "novo_pedido_obs"
)

// Unknown-sender stages.
const (
	StageUnknownMenu      Stage = "menu_inicial"
	StageAwaitNameLicense Stage = "aguardando_nome_cro"
)

var profileStages = map[Profile][]Stage{
	ProfileAdmin: {
		StageAdminMenu, StageAdminDeadline, StageAdminStatus, StageAdminClients, StageAdminRegistry,
	},
	ProfileClient: {
		StageClientMenu, StageOrderPatient, StageOrderProduct, StageOrderQuantity,
		StageOrderColor, StageOrderItemMenu, StageOrderNote,
	},
	ProfileUnknown: {
		StageUnknownMenu, StageAwaitNameLicense,
	},
}

// InitialStage returns the entry stage of a profile's graph.
func InitialStage(p Profile) Stage {
	switch p {
	case ProfileAdmin:
		return StageAdminMenu
	case ProfileClient:
		return StageClientMenu
	default:
		return StageUnknownMenu
	}
}

// Stages returns the stage set of a profile.
func Stages(p Profile) []Stage {
	out := make([]Stage, len(profileStages[p]))
	copy(out, profileStages[p])
	return out
}

// IsStageOf reports whether stage belongs to the graph of profile p.
func IsStageOf(p Profile, stage Stage) bool {
	for _, s := range profileStages[p] {
		if s == stage {
			return true
		}
	}
	return false
}

// IsOrderStage reports whether stage is one of the order-building stages,
// the only stages in which a session carries an order draft.
func IsOrderStage(stage Stage) bool {
	switch stage {
	case StageOrderPatient, StageOrderProduct, StageOrderQuantity,
		StageOrderColor, StageOrderItemMenu, StageOrderNote:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrSessionGone    = errors.New("session expired or was replaced during the turn")
	ErrSessionExists  = errors.New("session already exists")
	ErrInvalidStage   = errors.New("stage does not belong to the profile")
	ErrUnknownTable   = errors.New("unknown table")
	ErrUnknownSheet   = errors.New("unknown sheet")
	ErrEmptyOrder     = errors.New("order has no items")
	ErrEmptyPatient   = errors.New("patient name is required")
	ErrInvalidItem    = errors.New("order item requires a product and a positive quantity")
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
	ErrServiceStopped = errors.New("messaging service stopped")
)
