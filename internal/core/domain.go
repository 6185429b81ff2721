package core

import "time"

// Profile is a registered identity: a wallet address plus social handles.
// Name doubles as the primary key and is conventionally a 0x address.
type Profile struct {
	Name     string `json:"name"`
	LinkedIn string `json:"linkedin,omitempty"`
	Telegram string `json:"telegram,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
}

// DescriptorLength is the embedding size produced by the face recognition
// library. Descriptors of any other length are rejected at registration.
const DescriptorLength = 128

// SavedFace pairs a profile with one face embedding. A profile may own
// several descriptors in the gallery; they are clustered by name when
// matching.
type SavedFace struct {
	Label      Profile   `json:"label"`
	Descriptor []float32 `json:"descriptor"`
}

// Box is a face bounding box in frame coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns width*height, the heuristic for "closest to the camera".
func (b Box) Area() float64 { return b.Width * b.Height }

// DetectedFace is one recognition attempt result: where the face was,
// what it embedded to, and the nearest gallery match. Profile is nil when
// the match resolved to the unknown label.
type DetectedFace struct {
	Box        Box
	Descriptor []float32
	MatchLabel string
	Distance   float64
	Profile    *Profile
}

// StepType tags a progress step for presentation purposes only.
type StepType string

const (
	StepScan        StepType = "scan"
	StepAgent       StepType = "agent"
	StepConnection  StepType = "connection"
	StepToken       StepType = "token"
	StepTransaction StepType = "transaction"
	StepHash        StepType = "hash"
)

// AgentStep is a single line in the episode progress log. The log is an
// append-or-replace-last structure: when the last step is still loading it
// is replaced by the next update rather than appended after.
type AgentStep struct {
	Label     string   `json:"label"`
	IsLoading bool     `json:"isLoading"`
	Type      StepType `json:"type"`
}

// FunctionCall is the structured action an agent response may carry.
type FunctionCall struct {
	FunctionName string       `json:"functionName"`
	Args         FunctionArgs `json:"args"`
}

// FunctionArgs is the union of arguments across the supported variants.
type FunctionArgs struct {
	RecipientAddress string `json:"recipientAddress,omitempty"`
	Amount           string `json:"amount,omitempty"`
	Ticker           string `json:"ticker,omitempty"`
	Platform         string `json:"platform,omitempty"`
	Username         string `json:"username,omitempty"`
	SourceChain      string `json:"sourceChain,omitempty"`
	DestinationChain string `json:"destinationChain,omitempty"`
}

// AgentContent is the payload the agent endpoint returns.
type AgentContent struct {
	Text         string        `json:"text"`
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
}

// AgentProof is optional attestation metadata attached to a response.
type AgentProof struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Metadata  struct {
		LogID string `json:"logId"`
	} `json:"metadata"`
}

// AgentResponse is the full envelope from POST /api/generate.
type AgentResponse struct {
	Content AgentContent `json:"content"`
	Proof   *AgentProof  `json:"proof,omitempty"`
}

// TransactionRecord is one row of an address's interaction history.
type TransactionRecord struct {
	Result      string    `json:"result"`
	HasProof    bool      `json:"hasProof"`
	Timestamp   time.Time `json:"timestamp"`
	UserAddress string    `json:"userAddress"`
	Sequence    int64     `json:"sequence"`
}

// TransactionHistory is the response shape of /api/transactions/{address}.
type TransactionHistory struct {
	WalletAddress    string              `json:"walletAddress"`
	TransactionCount int                 `json:"transactionCount"`
	Transactions     []TransactionRecord `json:"transactions"`
}
