package dedup

import (
	"context"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/diff"
	"github.com/ruslano69/bridgestation/pkg/merge"
	"github.com/ruslano69/bridgestation/pkg/mergeflag"
	"github.com/ruslano69/bridgestation/pkg/process"
)

// unit - состояние одной сверки
type unit struct {
	engine     *Engine
	schema     *process.Schema
	masterKeys []string
	comparable []string
	result     *Result
}

// reconcileFamily сверяет строки одного семейства и возвращает строки к вставке
func (u *unit) reconcileFamily(ctx context.Context, fam mergeflag.Family, ex, in part) (*frame.Frame, error) {
	in, err := u.dropDuplicates(ctx, ex, in)
	if err != nil {
		return nil, err
	}
	if fam == mergeflag.FamilyGeneral || in.rows.Empty() {
		return in.rows, nil
	}

	inPlain, inDone, inM, inH := splitByKind(in)
	_, exDone, exM, exH := splitByKind(ex)

	// Готовые строки авторитетны: покрытые ими измерения и истории не вставляются
	inM = u.dropSubsumed(inM, exDone)
	inH = u.dropSubsumed(inH, exDone)

	done := int64(fam.Done())

	// Входящие измерения x существующие истории: история побеждает
	mergedB, err := u.combine(inM, exH, done, true)
	if err != nil {
		return nil, err
	}
	// Существующие измерения x входящие истории
	mergedC, err := u.combine(exM, inH, done, false)
	if err != nil {
		return nil, err
	}

	return frame.Concat(
		inPlain.rows,
		inDone.rows,
		mergedB.merged,
		mergedC.merged,
		mergedB.incomingRest,
		mergedC.incomingRest,
	), nil
}

// dropDuplicates исключает входящие строки, равные существующим по всем
// сравниваемым колонкам, один-к-одному. Пары уходят в OverlapSink.
func (u *unit) dropDuplicates(ctx context.Context, ex, in part) (part, error) {
	if ex.rows.Empty() || in.rows.Empty() {
		return in, nil
	}

	cmp := u.comparable
	res, err := merge.CombineRowsOneByOne(in.rows.Select(cmp...), ex.rows.Select(cmp...), cmp)
	if err != nil {
		return part{}, err
	}
	if len(res.Pairs) == 0 {
		return in, nil
	}
	u.result.Duplicates += len(res.Pairs)

	if sink := u.engine.sink; sink != nil {
		dupIn := in.rows.Filter(res.LeftMatched)
		dupEx := ex.rows.Filter(res.RightMatched).
			Select(append(append([]string(nil), cmp...), process.ColID)...).
			Rename(map[string]string{process.ColID: ColExistingID})
		pairs, _, err := merge.MergeRowsOneByOne(dupIn, dupEx, cmp, []string{ColExistingID})
		if err != nil {
			return part{}, err
		}
		if err := sink.Overlap(ctx, u.schema.ID, pairs); err != nil {
			u.engine.logger.Warn().Err(err).Int64("process", u.schema.ID).Msg("overlap sink failed")
		}
	}

	return in.filter(not(res.LeftMatched)), nil
}

// dropSubsumed исключает строки, покрытые готовыми строками с теми же мастер-ключами
func (u *unit) dropSubsumed(candidates, done part) part {
	if candidates.rows.Empty() || done.rows.Empty() {
		return candidates
	}
	idx := diff.Subsumed(candidates.rows, done.rows, u.masterKeys, u.comparable)
	keep := make([]bool, len(idx))
	for i, j := range idx {
		keep[i] = j < 0
		if j >= 0 {
			u.result.Subsumed++
		}
	}
	return candidates.filter(keep)
}

// combineResult - объединенные строки и остаток входящей стороны
type combineResult struct {
	merged       *frame.Frame
	incomingRest *frame.Frame
}

// combine поглощающе объединяет измерения (left) с историями (right) по мастер-ключам.
// incomingLeft указывает, какая сторона входящая: ее id остается у объединенной
// строки, а строки другой (существующей) стороны удаляются.
func (u *unit) combine(left, right part, done int64, incomingLeft bool) (combineResult, error) {
	incoming := right
	if incomingLeft {
		incoming = left
	}
	out := combineResult{incomingRest: incoming.rows}
	if left.rows.Empty() || right.rows.Empty() {
		return out, nil
	}

	res, err := merge.CombineRowsOneByOne(left.rows, right.rows, u.masterKeys)
	if err != nil {
		return out, err
	}
	if len(res.Pairs) == 0 {
		return out, nil
	}
	u.result.Merged += len(res.Pairs)

	merged := res.Merged
	for k, p := range res.Pairs {
		inIdx := p.Right
		if incomingLeft {
			inIdx = p.Left
		}
		merged.Set(k, process.ColID, incoming.rows.Value(inIdx, process.ColID))
		merged.Set(k, process.ColMergeFlag, done)
	}
	out.merged = merged

	existing, consumed := left, res.LeftMatched
	restMask := not(res.RightMatched)
	if incomingLeft {
		existing, consumed = right, res.RightMatched
		restMask = not(res.LeftMatched)
	}
	u.consume(existing, consumed)
	out.incomingRest = incoming.rows.Filter(restMask)
	return out, nil
}

// consume помечает существующие строки удаленными
func (u *unit) consume(existing part, mask []bool) {
	for i, m := range mask {
		if !m {
			continue
		}
		u.result.ExistingKept[existing.pos[i]] = false
		if id, ok := int64Of(existing.rows.Value(i, process.ColID)); ok {
			u.result.DeleteIDs = append(u.result.DeleteIDs, id)
		}
	}
}

// splitByKind делит часть по роли флага: общие, готовые, измерения, истории
func splitByKind(p part) (plain, done, meas, hist part) {
	masks := [4][]bool{}
	for k := range masks {
		masks[k] = make([]bool, p.rows.Len())
	}
	for i := range p.rows.Rows {
		flag, _ := mergeflag.FlagOf(p.rows.Value(i, process.ColMergeFlag))
		switch mergeflag.Classify(flag).Kind {
		case mergeflag.KindDone:
			masks[1][i] = true
		case mergeflag.KindMeasurement:
			masks[2][i] = true
		case mergeflag.KindHistory:
			masks[3][i] = true
		default:
			masks[0][i] = true
		}
	}
	return p.filter(masks[0]), p.filter(masks[1]), p.filter(masks[2]), p.filter(masks[3])
}

// filter оставляет строки части по маске, сохраняя исходные позиции
func (p part) filter(mask []bool) part {
	out := part{rows: p.rows.Filter(mask)}
	for i, m := range mask {
		if m {
			out.pos = append(out.pos, p.pos[i])
		}
	}
	return out
}

func not(mask []bool) []bool {
	out := make([]bool, len(mask))
	for i, m := range mask {
		out[i] = !m
	}
	return out
}
