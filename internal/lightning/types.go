package lightning

import "time"

// Instance phases reported by the backend.
const (
	PhaseRunning = "RUNNING"
	PhaseFailed  = "FAILED"
	PhaseStopped = "STOPPED"
	PhasePending = "PENDING"
)

type loginRequest struct {
	Username string `json:"username"`
	APIKey   string `json:"apiKey"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type membership struct {
	ProjectID   string `json:"projectId"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	OwnerID     string `json:"ownerId"`
	OwnerName   string `json:"ownerName"`
}

type membershipList struct {
	Memberships []membership `json:"memberships"`
}

type cloudSpace struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	OwnerName   string    `json:"ownerName"`
	ProjectName string    `json:"projectName"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"createdAt"`
}

type cloudSpaceList struct {
	CloudSpaces []cloudSpace `json:"cloudspaces"`
}

type createCloudSpaceRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type computeConfig struct {
	Name string `json:"name"`
}

type startRequest struct {
	ComputeConfig computeConfig `json:"computeConfig"`
}

type instanceStatus struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}
