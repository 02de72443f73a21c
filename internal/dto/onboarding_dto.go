package dto

// ChatOnboardingRequest claims a chat identity with an onboarding token.
type ChatOnboardingRequest struct {
	Token  string `json:"token" validate:"required"`
	ChatID string `json:"chat_id" validate:"required"`
}

// ChatOnboardingResponse reports the resulting lifecycle state.
type ChatOnboardingResponse struct {
	StudentID      uint   `json:"student_id"`
	LifecycleState string `json:"lifecycle_state"`
}
