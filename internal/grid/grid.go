// Package grid maps a sheet layout onto a canonical image: one pixel
// rectangle per (subject, question, option). No pixels are inspected here.
package grid

import (
	"image"
	"math"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/layout"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// DefaultAspectTolerance is the relative aspect-ratio deviation accepted
// between the canonical image and the layout.
const DefaultAspectTolerance = 0.12

// MinCellSide is the smallest cell edge, in pixels, the classifier can work with.
const MinCellSide = 4

const stage = "grid"

// CellRegion is the pixel rectangle of one answer option.
type CellRegion struct {
	Subject  int             `json:"subject"`
	Question int             `json:"question"`
	Option   int             `json:"option"`
	Rect     image.Rectangle `json:"rect"`
}

// Mapper computes cell regions.
type Mapper struct {
	AspectTolerance float64
}

// NewMapper returns a mapper; tolerance <= 0 selects the default.
func NewMapper(tolerance float64) *Mapper {
	if tolerance <= 0 {
		tolerance = DefaultAspectTolerance
	}
	return &Mapper{AspectTolerance: tolerance}
}

// CheckAspect fails with LayoutMismatch when width/height deviates from the
// layout's aspect ratio beyond tolerance. A layout-level tolerance wins over
// the mapper's.
func (m *Mapper) CheckAspect(width, height int, l *layout.SheetLayout) error {
	if width <= 0 || height <= 0 {
		return common.LayoutMismatch(stage, "empty canonical image %dx%d", width, height)
	}
	tol := m.AspectTolerance
	if l.AspectTolerance > 0 {
		tol = l.AspectTolerance
	}
	actual := float64(width) / float64(height)
	dev := math.Abs(actual/l.AspectRatio - 1)
	if dev > tol {
		return common.LayoutMismatch(stage,
			"canonical aspect %.3f deviates %.1f%% from layout %q aspect %.3f (tolerance %.1f%%)",
			actual, dev*100, l.ID, l.AspectRatio, tol*100)
	}
	return nil
}

// Map returns CellRegions ordered by subject, question, option.
func (m *Mapper) Map(width, height int, l *layout.SheetLayout) ([]CellRegion, error) {
	if err := m.CheckAspect(width, height, l); err != nil {
		return nil, err
	}

	W, H := float64(width), float64(height)
	g := l.Grid
	per := l.SubjectsPerRow()
	bands := l.Bands()

	areaX, areaY := g.Area.Left*W, g.Area.Top*H
	colGap, bandGap := g.ColumnGap*W, g.BandGap*H
	blockW := (g.Area.Width()*W - float64(per-1)*colGap) / float64(per)
	bandH := (g.Area.Height()*H - float64(bands-1)*bandGap) / float64(bands)
	if blockW <= 0 || bandH <= 0 {
		return nil, common.LayoutMismatch(stage, "grid of layout %q does not fit a %dx%d sheet", l.ID, width, height)
	}

	header := g.HeaderHeight * bandH
	labelW := g.LabelWidth * blockW
	pitchX := (blockW - labelW) / float64(l.OptionsPerQuestion)
	pitchY := (bandH - header) / float64(l.QuestionsPerSubject)
	side := g.BubbleFill * math.Min(pitchX, pitchY)
	if side < MinCellSide {
		return nil, common.LayoutMismatch(stage, "cells of layout %q are %.1fpx on a %dx%d sheet", l.ID, side, width, height)
	}

	bounds := image.Rect(0, 0, width, height)
	cells := make([]CellRegion, 0, l.CellCount())
	for s := range l.Subjects {
		bx := areaX + float64(s%per)*(blockW+colGap) + labelW
		by := areaY + float64(s/per)*(bandH+bandGap) + header
		for q := range l.QuestionsPerSubject {
			cy := by + (float64(q)+0.5)*pitchY
			for o := range l.OptionsPerQuestion {
				cx := bx + (float64(o)+0.5)*pitchX
				r := utils.NewBox(cx-side/2, cy-side/2, cx+side/2, cy+side/2).ToRect(bounds)
				if r.Dx() < MinCellSide || r.Dy() < MinCellSide {
					return nil, common.LayoutMismatch(stage, "cell %d/%d/%d of layout %q is %v on a %dx%d sheet",
						s, q, o, l.ID, r, width, height)
				}
				cells = append(cells, CellRegion{Subject: s, Question: q, Option: o, Rect: r})
			}
		}
	}
	return cells, nil
}

// Index returns the position of (subject, question, option) in the slice
// returned by Map.
func Index(l *layout.SheetLayout, subject, question, option int) int {
	return (subject*l.QuestionsPerSubject+question)*l.OptionsPerQuestion + option
}

// QuestionCells returns the option cells of one question.
func QuestionCells(cells []CellRegion, l *layout.SheetLayout, subject, question int) []CellRegion {
	i := Index(l, subject, question, 0)
	return cells[i : i+l.OptionsPerQuestion]
}
