package schema

// VerifyStartRequest asks for a challenge proving ownership of XHandle.
type VerifyStartRequest struct {
	AgentID string `json:"agentId" binding:"required"`
	XHandle string `json:"xHandle" binding:"required"`
}

// VerifyStartResponse carries the sentence to post from the handle.
type VerifyStartResponse struct {
	OK            bool   `json:"ok"`
	ChallengeID   string `json:"challengeId"`
	ChallengeText string `json:"challengeText"`
	XHandle       string `json:"xHandle"`
	ExpiresAt     int64  `json:"expiresAt"`
}

// VerifyCheckRequest asks the server to look for the challenge post.
type VerifyCheckRequest struct {
	ChallengeID string `json:"challengeId" binding:"required"`
}

// VerifyCheckResponse reports a completed verification.
type VerifyCheckResponse struct {
	OK       bool   `json:"ok"`
	Verified bool   `json:"verified"`
	AgentID  string `json:"agentId"`
	XHandle  string `json:"xHandle"`
	PostURL  string `json:"postUrl"`
}
