package portfolio

import (
	"github.com/hitoshi/mockmarket/internal/model"
)

// lotChange はFIFO消費で1つのロットに適用する変更。
// Remainingが0の場合はロットを削除する。
type lotChange struct {
	LotID     string
	Remaining int64
}

// planFIFO はacquired_at昇順に並んだロットから古い順にquantityを消費する計画を立てる。
// 保有数が足りない場合はokがfalseとなり、計画は空になる。
func planFIFO(lots []model.Lot, quantity int64) (realized []model.RealizedLot, changes []lotChange, ok bool) {
	var total int64
	for _, lot := range lots {
		total += lot.Quantity
	}
	if total < quantity {
		return nil, nil, false
	}

	left := quantity
	for _, lot := range lots {
		if left == 0 {
			break
		}
		take := min(lot.Quantity, left)
		left -= take

		realized = append(realized, model.RealizedLot{
			LotID:      lot.ID,
			UnitPrice:  lot.UnitPrice,
			Quantity:   take,
			AcquiredAt: lot.AcquiredAt,
		})
		changes = append(changes, lotChange{LotID: lot.ID, Remaining: lot.Quantity - take})
	}
	return realized, changes, true
}
