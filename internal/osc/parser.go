// Package osc reads osmChange documents into typed stream elements.
package osc

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wegman-software/changepipe/internal/entity"
	"github.com/wegman-software/changepipe/internal/logger"
)

// Parser parses OSC (OSM Change) files
type Parser struct {
	stats Stats
}

// NewParser creates a new OSC parser
func NewParser() *Parser {
	return &Parser{}
}

// Stats returns parsing statistics
func (p *Parser) Stats() Stats {
	return p.stats
}

// ParseFile parses an OSC file and streams changes to a channel.
// Files ending in .gz are decompressed.
func (p *Parser) ParseFile(ctx context.Context, filename string) (<-chan Change, <-chan error) {
	changes := make(chan Change, 1000)
	errChan := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errChan)

		f, err := os.Open(filename)
		if err != nil {
			errChan <- fmt.Errorf("failed to open OSC file: %w", err)
			return
		}
		defer f.Close()

		reader, closeFn, err := maybeGzip(f, strings.HasSuffix(filename, ".gz"))
		if err != nil {
			errChan <- err
			return
		}
		defer closeFn()

		if err := p.parse(ctx, reader, changes); err != nil {
			errChan <- err
		}
	}()

	return changes, errChan
}

// ParseReader parses OSC data from a reader
func (p *Parser) ParseReader(ctx context.Context, reader io.Reader) (<-chan Change, <-chan error) {
	changes := make(chan Change, 1000)
	errChan := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errChan)

		if err := p.parse(ctx, reader, changes); err != nil {
			errChan <- err
		}
	}()

	return changes, errChan
}

// ReadDiff parses a whole document and groups its elements by kind
func (p *Parser) ReadDiff(ctx context.Context, reader io.Reader) (*Diff, error) {
	return collect(p.ParseReader(ctx, reader))
}

// ReadDiffFile parses a whole file and groups its elements by kind
func (p *Parser) ReadDiffFile(ctx context.Context, filename string) (*Diff, error) {
	return collect(p.ParseFile(ctx, filename))
}

func collect(changes <-chan Change, errChan <-chan error) (*Diff, error) {
	diff := &Diff{}
	for change := range changes {
		diff.Add(change.Element)
	}
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}
	return diff, nil
}

func maybeGzip(r io.Reader, compressed bool) (io.Reader, func(), error) {
	if !compressed {
		return r, func() {}, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return gz, func() { gz.Close() }, nil
}

// parse performs the actual XML parsing
func (p *Parser) parse(ctx context.Context, reader io.Reader, changes chan<- Change) error {
	decoder := xml.NewDecoder(reader)
	var action Action

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		token, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("XML parse error: %w", err)
		}

		se, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "create":
			action = ActionCreate
		case "modify":
			action = ActionModify
		case "delete":
			action = ActionDelete
		case "node", "way", "relation":
			el, err := parseElement(decoder, se)
			if err != nil {
				return err
			}
			select {
			case changes <- Change{Action: action, Element: el}:
				p.stats.count(action, el.Ref.Kind)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// parseElement reads a node, way or relation including its children.
// Coordinates are only marked present when both lat and lon are given;
// deletions usually carry neither.
func parseElement(decoder *xml.Decoder, start xml.StartElement) (entity.Element, error) {
	kind, err := entity.ParseKind(start.Name.Local)
	if err != nil {
		return entity.Element{}, err
	}
	el := entity.Element{Ref: entity.Ref{Kind: kind}}

	var hasLat, hasLon bool
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			if el.Ref.ID, err = strconv.ParseInt(attr.Value, 10, 64); err != nil {
				return el, fmt.Errorf("invalid %s id %q: %w", kind, attr.Value, err)
			}
		case "version":
			el.Version, _ = strconv.Atoi(attr.Value)
		case "changeset":
			el.Changeset, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "lat":
			el.Lat, err = strconv.ParseFloat(attr.Value, 64)
			hasLat = err == nil
		case "lon":
			el.Lon, err = strconv.ParseFloat(attr.Value, 64)
			hasLon = err == nil
		}
	}
	el.HasCoords = kind == entity.KindNode && hasLat && hasLon

	for {
		token, err := decoder.Token()
		if err != nil {
			return el, fmt.Errorf("XML parse error in %s: %w", el.Ref, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "nd":
				if ref, ok := attrInt(t, "ref"); ok {
					el.NodeRefs = append(el.NodeRefs, ref)
				}
			case "member":
				if m, ok := parseMember(t); ok {
					el.Members = append(el.Members, m)
				} else {
					logger.Get().Debug("Skipping unusable relation member", zap.Stringer("relation", el.Ref))
				}
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return el, nil
			}
		}
	}
}

func parseMember(se xml.StartElement) (entity.Ref, bool) {
	var ref entity.Ref
	var hasType bool
	for _, attr := range se.Attr {
		if attr.Name.Local == "type" {
			kind, err := entity.ParseKind(attr.Value)
			if err != nil {
				return ref, false
			}
			ref.Kind, hasType = kind, true
		}
	}
	id, ok := attrInt(se, "ref")
	ref.ID = id
	return ref, ok && hasType
}

func attrInt(se xml.StartElement, name string) (int64, bool) {
	for _, attr := range se.Attr {
		if attr.Name.Local == name {
			v, err := strconv.ParseInt(attr.Value, 10, 64)
			return v, err == nil
		}
	}
	return 0, false
}
