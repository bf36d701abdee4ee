// Package pattern drafts cutter-ready pattern artifacts from a validated
// measurement set and stores them in the artifact store.
package pattern

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"stitchcore/internal/core"
	"stitchcore/internal/infra/blob"
	"stitchcore/pkg/domain"
)

var _ core.PatternGenerator = (*Generator)(nil)

// Artifact kinds produced per order.
const (
	ArtifactPLT = "plt" // HPGL plotter file streamed to the cutter
	ArtifactPDS = "pds" // pattern design sheet
	ArtifactDXF = "dxf" // CAD exchange file
)

// hpglUnitsPerCM converts centimetres to HPGL plotter units (40 units/mm).
const hpglUnitsPerCM = 400

// Generator drafts basic garment blocks from body measurements. The drafting
// rules are the standard block formulas: panel widths derive from girths plus
// ease, lengths from the vertical measurements.
type Generator struct {
	store blob.Store
}

// NewGenerator constructs a generator writing into the artifact store.
func NewGenerator(store blob.Store) *Generator {
	return &Generator{store: store}
}

// Generate drafts the pattern artifacts for the order and uploads them under
// orders/<id>/. The PLT artifact doubles as the cutter payload.
func (g *Generator) Generate(ctx context.Context, order domain.Order) (core.PatternResult, error) {
	if len(order.Measurements) == 0 {
		return core.PatternResult{}, fmt.Errorf("order %s has no measurements", order.ID)
	}
	block := draftBlock(order)

	plt := renderPLT(order, block)
	pds := renderPDS(order, block)
	dxf := renderDXF(order, block)

	prefix := "orders/" + order.ID + "/"
	uploads := []struct {
		kind        string
		contentType string
		data        []byte
	}{
		{ArtifactPLT, "application/vnd.hp-hpgl", plt},
		{ArtifactPDS, "text/plain", pds},
		{ArtifactDXF, "application/dxf", dxf},
	}
	files := make(map[string]bool, len(uploads))
	for _, u := range uploads {
		key := prefix + "pattern." + u.kind
		_, err := g.store.Put(ctx, key, bytes.NewReader(u.data), blob.PutOptions{
			ContentType: u.contentType,
			Metadata: map[string]string{
				"order_id":     order.ID,
				"garment_type": order.GarmentType,
			},
		})
		if err != nil {
			return core.PatternResult{}, fmt.Errorf("store %s artifact: %w", u.kind, err)
		}
		files[u.kind] = true
	}

	return core.PatternResult{
		Files:      files,
		PayloadKey: prefix + "pattern." + ArtifactPLT,
	}, nil
}

// CutPayload loads the PLT artifact recorded during generation.
func (g *Generator) CutPayload(ctx context.Context, order domain.Order) ([]byte, error) {
	key, _ := order.Metadata["cutter_payload_key"].(string)
	if key == "" {
		return nil, fmt.Errorf("order %s has no cutter payload", order.ID)
	}
	_, rc, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load cutter payload %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// ArtifactURL returns a download URL for one artifact kind, when the backend
// supports pre-signing.
func (g *Generator) ArtifactURL(ctx context.Context, orderID, kind string) (string, error) {
	key := "orders/" + orderID + "/pattern." + kind
	return g.store.PresignURL(ctx, key, blob.SignedURLOptions{})
}

// Artifact opens one artifact for streaming to a client.
func (g *Generator) Artifact(ctx context.Context, orderID, kind string) (blob.Info, io.ReadCloser, error) {
	key := "orders/" + orderID + "/pattern." + kind
	return g.store.Get(ctx, key)
}

// block holds the drafted panel geometry in centimetres.
type block struct {
	FrontWidth  float64
	BackWidth   float64
	BodyLength  float64
	SleeveLen   float64
	SleeveWidth float64
	NeckRadius  float64
}

// draftBlock applies basic block formulas. Ease allowances follow the fit
// type: slim 4cm, regular 8cm, relaxed 12cm on the chest.
func draftBlock(order domain.Order) block {
	get := func(code string) float64 { return order.Measurements[code].Value }

	ease := 8.0
	switch strings.ToLower(order.FitType) {
	case "slim":
		ease = 4
	case "relaxed", "loose":
		ease = 12
	}

	chest := get("Cg") + ease
	back := get("Bw")
	length := get("Bwl")
	if length == 0 {
		// Secondary measurement absent; estimate from inseam proportions.
		length = get("Il") * 0.55
	}
	sleeve := get("Al")
	bicep := get("Bg") + ease/2
	neck := get("Nc")

	return block{
		FrontWidth:  chest/2 - back/4,
		BackWidth:   chest/2 + back/4,
		BodyLength:  length + 18,
		SleeveLen:   sleeve,
		SleeveWidth: bicep,
		NeckRadius:  neck / 6,
	}
}

func renderPLT(order domain.Order, b block) []byte {
	var buf bytes.Buffer
	cm := func(v float64) int { return int(v * hpglUnitsPerCM) }
	buf.WriteString("IN;SP1;\n")
	fmt.Fprintf(&buf, "CO \"%s\";\n", order.ID)
	// Front panel outline.
	fmt.Fprintf(&buf, "PU0,0;PD%d,0;PD%d,%d;PD0,%d;PD0,0;\n",
		cm(b.FrontWidth), cm(b.FrontWidth), cm(b.BodyLength), cm(b.BodyLength))
	// Back panel, offset right of the front.
	offset := cm(b.FrontWidth + 5)
	fmt.Fprintf(&buf, "PU%d,0;PD%d,0;PD%d,%d;PD%d,%d;PD%d,0;\n",
		offset, offset+cm(b.BackWidth), offset+cm(b.BackWidth), cm(b.BodyLength), offset, cm(b.BodyLength), offset)
	// Sleeve block.
	fmt.Fprintf(&buf, "PU0,%d;PD%d,%d;PD%d,%d;PD0,%d;PD0,%d;\n",
		cm(b.BodyLength+5), cm(b.SleeveWidth), cm(b.BodyLength+5),
		cm(b.SleeveWidth), cm(b.BodyLength+5+b.SleeveLen), cm(b.BodyLength+5+b.SleeveLen), cm(b.BodyLength+5))
	// Neckline arc.
	fmt.Fprintf(&buf, "PU%d,%d;CI%d;\n", cm(b.FrontWidth/2), cm(b.BodyLength), cm(b.NeckRadius))
	buf.WriteString("PU0,0;SP0;\n")
	return buf.Bytes()
}

func renderPDS(order domain.Order, b block) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "PATTERN DESIGN SHEET\norder: %s\ngarment: %s\nfit: %s\n\n",
		order.ID, order.GarmentType, order.FitType)
	fmt.Fprintf(&buf, "front_width_cm: %.1f\n", b.FrontWidth)
	fmt.Fprintf(&buf, "back_width_cm: %.1f\n", b.BackWidth)
	fmt.Fprintf(&buf, "body_length_cm: %.1f\n", b.BodyLength)
	fmt.Fprintf(&buf, "sleeve_length_cm: %.1f\n", b.SleeveLen)
	fmt.Fprintf(&buf, "sleeve_width_cm: %.1f\n", b.SleeveWidth)
	fmt.Fprintf(&buf, "neck_radius_cm: %.1f\n", b.NeckRadius)
	return buf.Bytes()
}

func renderDXF(order domain.Order, b block) []byte {
	var buf bytes.Buffer
	buf.WriteString("0\nSECTION\n2\nHEADER\n9\n$INSUNITS\n70\n5\n0\nENDSEC\n")
	buf.WriteString("0\nSECTION\n2\nENTITIES\n")
	writeRect := func(x, y, w, h float64) {
		corners := [][2]float64{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}}
		for i := range corners {
			next := corners[(i+1)%len(corners)]
			fmt.Fprintf(&buf, "0\nLINE\n8\n%s\n10\n%.2f\n20\n%.2f\n11\n%.2f\n21\n%.2f\n",
				order.ID, corners[i][0], corners[i][1], next[0], next[1])
		}
	}
	writeRect(0, 0, b.FrontWidth, b.BodyLength)
	writeRect(b.FrontWidth+5, 0, b.BackWidth, b.BodyLength)
	writeRect(0, b.BodyLength+5, b.SleeveWidth, b.SleeveLen)
	buf.WriteString("0\nENDSEC\n0\nEOF\n")
	return buf.Bytes()
}
