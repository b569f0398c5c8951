package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// GenerateItem is one order line entering code generation.
type GenerateItem struct {
	ProductCode  string
	VariantCode  string
	Qty          int
	UnitsPerCase int
}

type GenerateInput struct {
	OrderNo          string
	ManufacturerCode string
	Items            []GenerateItem
	BufferPercent    int
	// DefaultUnitsPerCase applies to every item unless PerItemCaseSize is set,
	// in which case each item's own UnitsPerCase wins (default as fallback).
	DefaultUnitsPerCase int
	PerItemCaseSize     bool
}

type GeneratedMaster struct {
	Code              string
	CaseNo            int
	ProductCode       string
	VariantCode       string
	ExpectedUnitCount int
}

type GeneratedUnit struct {
	Code        string
	SequenceNo  int
	CaseNo      int
	ProductCode string
	VariantCode string
	IsBuffer    bool
}

// GeneratedBatch is the in-memory batch descriptor. Masters are ordered by
// case number, units by sequence number; buffers follow the base range.
type GeneratedBatch struct {
	Masters          []GeneratedMaster
	Units            []GeneratedUnit
	TotalBaseUnits   int
	TotalBufferUnits int
}

func (b *GeneratedBatch) TotalUniqueCodes() int {
	return b.TotalBaseUnits + b.TotalBufferUnits
}

// GenerateOrderCodes builds the full master/unit code set for an order.
// Pure function of its input: rerunning it for the same order always yields
// the identical code set, which is what lets the persistence pipeline resume
// from a checkpoint without storing intermediate state.
//
// Sequence numbers are contiguous across items in declaration order, starting
// at 1. Case numbers are 1-based and contiguous across the whole batch. The
// last case of an item may be short (mixed/variable case sizes are supported).
// Buffer quantity is floor(total_base_units * buffer_percent / 100); buffer
// codes continue the sequence range and are pre-allocated round-robin across
// the batch's cases, since buffers are case-exclusive at reconciliation time.
func GenerateOrderCodes(in GenerateInput) (*GeneratedBatch, error) {
	if strings.TrimSpace(in.OrderNo) == "" {
		return nil, errors.New("order no is required")
	}
	if strings.TrimSpace(in.ManufacturerCode) == "" {
		return nil, errors.New("manufacturer code is required")
	}
	if len(in.Items) == 0 {
		return nil, errors.New("order has no items")
	}
	if in.BufferPercent < 0 {
		return nil, fmt.Errorf("invalid buffer percent %d", in.BufferPercent)
	}

	batch := &GeneratedBatch{}
	seq := 0
	caseNo := 0

	for i, item := range in.Items {
		if item.Qty <= 0 {
			return nil, fmt.Errorf("item %d: invalid qty %d", i, item.Qty)
		}
		unitsPerCase := in.DefaultUnitsPerCase
		if in.PerItemCaseSize && item.UnitsPerCase > 0 {
			unitsPerCase = item.UnitsPerCase
		}
		if unitsPerCase <= 0 {
			return nil, fmt.Errorf("item %d: units per case not resolved", i)
		}

		remaining := item.Qty
		for remaining > 0 {
			caseNo++
			caseQty := unitsPerCase
			if remaining < caseQty {
				caseQty = remaining
			}

			batch.Masters = append(batch.Masters, GeneratedMaster{
				Code:              masterCodeHash(in.OrderNo, in.ManufacturerCode, caseNo),
				CaseNo:            caseNo,
				ProductCode:       item.ProductCode,
				VariantCode:       item.VariantCode,
				ExpectedUnitCount: caseQty,
			})

			for u := 0; u < caseQty; u++ {
				seq++
				batch.Units = append(batch.Units, GeneratedUnit{
					Code:        unitCodeHash(in.OrderNo, in.ManufacturerCode, seq),
					SequenceNo:  seq,
					CaseNo:      caseNo,
					ProductCode: item.ProductCode,
					VariantCode: item.VariantCode,
					IsBuffer:    false,
				})
			}
			remaining -= caseQty
		}
	}
	batch.TotalBaseUnits = seq

	bufferQty := batch.TotalBaseUnits * in.BufferPercent / 100
	totalCases := caseNo
	for b := 0; b < bufferQty; b++ {
		seq++
		targetCase := (b % totalCases) + 1
		master := batch.Masters[targetCase-1]
		batch.Units = append(batch.Units, GeneratedUnit{
			Code:        unitCodeHash(in.OrderNo, in.ManufacturerCode, seq),
			SequenceNo:  seq,
			CaseNo:      targetCase,
			ProductCode: master.ProductCode,
			VariantCode: master.VariantCode,
			IsBuffer:    true,
		})
	}
	batch.TotalBufferUnits = bufferQty

	return batch, nil
}

// unitCodeHash derives the printable unit identifier. The exact encoding is a
// collaborator concern of the printing pipeline; the only property relied on
// here is determinism over (order no, manufacturer code, sequence no).
func unitCodeHash(orderNo, manufacturerCode string, sequenceNo int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", orderNo, manufacturerCode, sequenceNo)))
	return fmt.Sprintf("%s-%s", manufacturerCode, strings.ToUpper(hex.EncodeToString(sum[:])[:12]))
}

func masterCodeHash(orderNo, manufacturerCode string, caseNo int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:M:%d", orderNo, manufacturerCode, caseNo)))
	return fmt.Sprintf("%s-M%s", manufacturerCode, strings.ToUpper(hex.EncodeToString(sum[:])[:12]))
}
