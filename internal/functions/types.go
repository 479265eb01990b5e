package functions

import "github.com/shopspring/decimal"

// Function names as deployed on the backend.
const (
	FnVerifySolanaPayment   = "verify-solana-payment"
	FnNotifyTelegram        = "notify-telegram"
	FnGenerateNonce         = "generate-nonce"
	FnVerifyWalletSignature = "verify-wallet-signature"
	FnAnalyzeContent        = "analyze-content"
)

// VerifyPaymentRequest asks the backend to check a submitted transfer on-chain.
type VerifyPaymentRequest struct {
	Signature     string          `json:"signature"`
	WalletAddress string          `json:"walletAddress"`
	MemeID        int64           `json:"memeId"`
	UserID        string          `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
}

// Verdict statuses reported next to Verified. Pending means the node has not
// indexed the transaction yet and the claim may be retried.
const (
	VerifyStatusVerified = "verified"
	VerifyStatusRejected = "rejected"
	VerifyStatusPending  = "pending"
)

// VerifyPaymentResponse is the verdict. Verified is a pointer so a missing
// field is distinguishable from false.
type VerifyPaymentResponse struct {
	Verified  *bool  `json:"verified"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
}

// IsPending reports an undecided verdict.
func (r *VerifyPaymentResponse) IsPending() bool {
	return r != nil && r.Status == VerifyStatusPending
}

// TelegramNotice is posted to the community channel after a meme is featured.
type TelegramNotice struct {
	MemeID  int64  `json:"memeId"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type nonceRequest struct {
	WalletAddress string `json:"walletAddress"`
}

type nonceResponse struct {
	Nonce string `json:"nonce"`
}

type walletSignatureRequest struct {
	WalletAddress string `json:"walletAddress"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
}

type walletSignatureResponse struct {
	Valid *bool `json:"valid"`
}

// AnalyzeRequest submits meme content for moderation.
type AnalyzeRequest struct {
	ImageURL    string `json:"imageUrl"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Analysis is the moderation result.
type Analysis struct {
	Allowed *bool    `json:"allowed"`
	Labels  []string `json:"labels,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// errorBody is the JSON error shape returned by functions.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
