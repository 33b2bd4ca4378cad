package api

// Request/response DTOs. All value fields are plain integers in native value
// units and asset units; addresses and signatures are 0x-prefixed hex.

type BidRequest struct {
	Token     string `json:"token"`
	AssetID   uint64 `json:"assetId"`
	Amount    int64  `json:"amount"`
	Price     int64  `json:"price"`
	Value     int64  `json:"value"` // attached value, must equal amount*price
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type AskRequest struct {
	Token     string `json:"token"`
	AssetID   uint64 `json:"assetId"`
	Amount    int64  `json:"amount"`
	Price     int64  `json:"price"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type CancelRequest struct {
	IDs       []uint64 `json:"ids"`
	Nonce     uint64   `json:"nonce"`
	Signature string   `json:"signature"`
}

type SettleRequest struct {
	BidIDs    []uint64 `json:"bidIds"`
	AskIDs    []uint64 `json:"askIds"`
	Amounts   []int64  `json:"amounts"`
	Nonce     uint64   `json:"nonce"`
	Signature string   `json:"signature"`
}

type ApproveRequest struct {
	Token     string `json:"token"`
	Approved  bool   `json:"approved"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type FaucetRequest struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

type MintRequest struct {
	Address string `json:"address"`
	AssetID uint64 `json:"assetId"`
	Amount  int64  `json:"amount"`
}

type OrderInfo struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	AssetID   uint64 `json:"assetId"`
	Amount    int64  `json:"amount"`
	Price     int64  `json:"price"`
	IsBuy     bool   `json:"isBuy"`
	IsActive  bool   `json:"isActive"`
	Escrow    int64  `json:"escrow"` // value still held for a bid
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

type AccountInfo struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"` // native value balance
}

type AssetBalanceInfo struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	AssetID uint64 `json:"assetId"`
	Balance int64  `json:"balance"`
}

type CreateOrderResponse struct {
	Status  string `json:"status"`
	OrderID uint64 `json:"orderId"`
}

type SettlementInfo struct {
	BidID    uint64 `json:"bidId"`
	AskID    uint64 `json:"askId"`
	Token    string `json:"token"`
	AssetID  uint64 `json:"assetId"`
	Amount   int64  `json:"amount"`
	Price    int64  `json:"price"`
	Payment  int64  `json:"payment"`
	Refund   int64  `json:"refund"`
	BidOwner string `json:"bidOwner"`
	AskOwner string `json:"askOwner"`
}

type SettleResponse struct {
	Status      string           `json:"status"`
	Settlements []SettlementInfo `json:"settlements"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the client → server subscription message.
// Channels: "orders", "settlements".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

type OrderEvent struct {
	Type  string    `json:"type"` // "order"
	Order OrderInfo `json:"order"`
}

type SettlementEvent struct {
	Type       string         `json:"type"` // "settlement"
	Settlement SettlementInfo `json:"settlement"`
}
