package enums

// ProfilePrompt tells the client which saved-shipping question to ask after the shipping step.
type ProfilePrompt string

const (
	ProfilePromptNone   ProfilePrompt = "none"
	ProfilePromptSave   ProfilePrompt = "save"
	ProfilePromptUpdate ProfilePrompt = "update"
)

// ProfileDecision is the shopper's answer to a ProfilePrompt.
type ProfileDecision string

const (
	ProfileDecisionSave    ProfileDecision = "save"
	ProfileDecisionUpdate  ProfileDecision = "update"
	ProfileDecisionDecline ProfileDecision = "decline"
)

var profileDecisions = newSet("profile decision", ProfileDecisionSave, ProfileDecisionUpdate, ProfileDecisionDecline)

func (d ProfileDecision) IsValid() bool { return profileDecisions.has(d) }

func ParseProfileDecision(value string) (ProfileDecision, error) {
	return profileDecisions.parse(value)
}
