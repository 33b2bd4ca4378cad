package api

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenex-labs/tokendex/pkg/dex"
	"github.com/tokenex-labs/tokendex/pkg/dex/order"
)

type orderSnapshot = order.Order

func assetRef(token common.Address, id uint64) order.AssetRef {
	return order.AssetRef{Token: token, ID: id}
}

func orderInfoFrom(o order.Order, escrow int64) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Owner:     o.Owner.Hex(),
		Token:     o.Asset.Token.Hex(),
		AssetID:   o.Asset.ID,
		Amount:    o.Amount,
		Price:     o.Price,
		IsBuy:     o.IsBuy,
		IsActive:  o.IsActive,
		Escrow:    escrow,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func settlementInfo(st dex.Settlement) SettlementInfo {
	return SettlementInfo{
		BidID:    st.BidID,
		AskID:    st.AskID,
		Token:    st.Asset.Token.Hex(),
		AssetID:  st.Asset.ID,
		Amount:   st.Amount,
		Price:    st.Price,
		Payment:  st.Payment,
		Refund:   st.Refund,
		BidOwner: st.BidOwner.Hex(),
		AskOwner: st.AskOwner.Hex(),
	}
}
