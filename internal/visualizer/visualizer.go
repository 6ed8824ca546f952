// Package visualizer renders a small textual graph specification of the
// form "nodes: A,B,C; edges: A->B(label),B->C" into a PNG diagram.
package visualizer

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"github.com/google/uuid"
)

const (
	maxNodes = 64
	maxEdges = 128

	canvasW    = 900
	canvasH    = 600
	nodeRadius = 36.0
)

// Edge is one directed edge with an optional label.
type Edge struct {
	From  string
	To    string
	Label string
}

type Visualizer struct {
	outputDir string
}

func New(outputDir string) (*Visualizer, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating diagram dir: %w", err)
	}
	return &Visualizer{outputDir: outputDir}, nil
}

// ParseSpec splits the graph spec into nodes and edges. Unparseable
// fragments are skipped; an empty node list is reported by the caller.
func ParseSpec(spec string) ([]string, []Edge) {
	var nodes []string
	var edges []Edge
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "nodes:"):
			for _, n := range strings.Split(strings.TrimPrefix(part, "nodes:"), ",") {
				if n = strings.TrimSpace(n); n != "" {
					nodes = append(nodes, n)
				}
			}
		case strings.HasPrefix(part, "edges:"):
			for _, raw := range strings.Split(strings.TrimPrefix(part, "edges:"), ",") {
				raw = strings.TrimSpace(raw)
				if raw == "" {
					continue
				}
				var label string
				if open := strings.Index(raw, "("); open >= 0 {
					if close := strings.LastIndex(raw, ")"); close > open {
						label = raw[open+1 : close]
					}
					raw = raw[:open]
				}
				from, to, ok := strings.Cut(raw, "->")
				if !ok {
					continue
				}
				edges = append(edges, Edge{
					From:  strings.TrimSpace(from),
					To:    strings.TrimSpace(to),
					Label: label,
				})
			}
		}
	}
	if len(nodes) > maxNodes {
		nodes = nodes[:maxNodes]
	}
	if len(edges) > maxEdges {
		edges = edges[:maxEdges]
	}
	return nodes, edges
}

// GenerateFromSpec renders the spec and returns the diagram file id
// within the output directory. The circular layout is deterministic for
// a given spec.
func (v *Visualizer) GenerateFromSpec(spec string) (string, error) {
	nodes, edges := ParseSpec(spec)
	if len(nodes) == 0 {
		// Nodes can be implied by edges alone.
		seen := map[string]bool{}
		for _, e := range edges {
			for _, n := range []string{e.From, e.To} {
				if n != "" && !seen[n] {
					seen[n] = true
					nodes = append(nodes, n)
				}
			}
		}
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("diagram spec has no nodes: %q", spec)
	}

	pos := layoutCircle(nodes)
	dc := gg.NewContext(canvasW, canvasH)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	for _, e := range edges {
		from, okF := pos[e.From]
		to, okT := pos[e.To]
		if !okF || !okT {
			continue
		}
		drawArrow(dc, from, to)
		if e.Label != "" {
			dc.SetRGB(0.25, 0.25, 0.25)
			dc.DrawStringAnchored(e.Label, (from[0]+to[0])/2, (from[1]+to[1])/2-8, 0.5, 0.5)
		}
	}

	for _, n := range nodes {
		p := pos[n]
		dc.SetRGB(0.655, 0.78, 0.906)
		dc.DrawCircle(p[0], p[1], nodeRadius)
		dc.Fill()
		dc.SetRGB(0.2, 0.2, 0.2)
		dc.DrawCircle(p[0], p[1], nodeRadius)
		dc.Stroke()
		dc.DrawStringAnchored(n, p[0], p[1], 0.5, 0.5)
	}

	fileID := strings.ReplaceAll(uuid.NewString(), "-", "") + ".png"
	if err := dc.SavePNG(filepath.Join(v.outputDir, fileID)); err != nil {
		return "", fmt.Errorf("writing diagram: %w", err)
	}
	return fileID, nil
}

// FilePath resolves a diagram id inside the output directory, rejecting
// path traversal.
func (v *Visualizer) FilePath(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid diagram id: %q", id)
	}
	return filepath.Join(v.outputDir, id), nil
}

func layoutCircle(nodes []string) map[string][2]float64 {
	cx, cy := float64(canvasW)/2, float64(canvasH)/2
	r := math.Min(cx, cy) - nodeRadius - 30
	pos := make(map[string][2]float64, len(nodes))
	for i, n := range nodes {
		angle := 2 * math.Pi * float64(i) / float64(len(nodes))
		pos[n] = [2]float64{cx + r*math.Cos(angle), cy + r*math.Sin(angle)}
	}
	return pos
}

func drawArrow(dc *gg.Context, from, to [2]float64) {
	dx, dy := to[0]-from[0], to[1]-from[1]
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		return
	}
	ux, uy := dx/dist, dy/dist
	// Stop the line at the node boundary, not its centre.
	sx, sy := from[0]+ux*nodeRadius, from[1]+uy*nodeRadius
	ex, ey := to[0]-ux*nodeRadius, to[1]-uy*nodeRadius

	dc.SetRGB(0.35, 0.35, 0.35)
	dc.SetLineWidth(1.5)
	dc.DrawLine(sx, sy, ex, ey)
	dc.Stroke()

	const headLen = 10.0
	angle := math.Atan2(uy, ux)
	for _, off := range []float64{math.Pi / 7, -math.Pi / 7} {
		dc.DrawLine(ex, ey, ex-headLen*math.Cos(angle-off), ey-headLen*math.Sin(angle-off))
	}
	dc.Stroke()
}
