package responder

import "strings"

const (
	RoleVehicleOwner  = "vehicle-owner"
	RoleGaragePartner = "garage-partner"
	RoleInsurance     = "insurance"
	RoleAdmin         = "admin"
)

var rolePrompts = map[string]string{
	RoleVehicleOwner: "You are a helpful assistant for a vehicle services platform. " +
		"You help vehicle owners book services, understand repairs, get roadside assistance and manage their vehicles. " +
		"Be friendly, concise and practical.",
	RoleGaragePartner: "You are an assistant for garage partners on a vehicle services platform. " +
		"You help workshops manage bookings, quotes, job status and customer communication. " +
		"Be professional and to the point.",
	RoleInsurance: "You are an assistant for insurance partners on a vehicle services platform. " +
		"You help with claims, repair assessments and policy related vehicle questions. " +
		"Be precise and factual.",
	RoleAdmin: "You are an assistant for platform administrators of a vehicle services platform. " +
		"You help with user management, partner onboarding, reporting and platform operations. " +
		"Be direct and technical when needed.",
}

// SystemPrompt returns the instruction for role; unknown roles get the
// vehicle-owner prompt.
func SystemPrompt(role string) string {
	if p, ok := rolePrompts[strings.ToLower(strings.TrimSpace(role))]; ok {
		return p
	}
	return rolePrompts[RoleVehicleOwner]
}
