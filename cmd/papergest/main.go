// Command papergest parses, validates and downloads PMC articles from the
// command line.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/ulikunitz/xz"

	"github.com/dgallion1/papergest/internal/clean"
	"github.com/dgallion1/papergest/internal/logging"
	"github.com/dgallion1/papergest/internal/paper"
	"github.com/dgallion1/papergest/internal/pipeline"
	"github.com/dgallion1/papergest/internal/render"
	"github.com/dgallion1/papergest/internal/scrape"
	"github.com/dgallion1/papergest/internal/validate"
)

// Globals are shared by every command.
type Globals struct {
	LogFormat string `name:"log-format" help:"Log format (json or text)" default:"text" env:"LOG_FORMAT"`
	LogLevel  string `name:"log-level" help:"Log level" default:"warn" env:"LOG_LEVEL"`
}

// runContext is bound to every command's Run method.
type runContext struct {
	log *slog.Logger
}

// CLI defines the command-line interface for papergest.
var CLI struct {
	Globals

	Parse    ParseCmd    `cmd:"" help:"Parse a JATS XML file"`
	Validate ValidateCmd `cmd:"" help:"Check a JATS XML file against its declared DTD"`
	Fetch    FetchCmd    `cmd:"" help:"Download an article from PubMed Central"`
	Search   SearchCmd   `cmd:"" help:"Search PubMed Central and list PMCIDs"`
}

// ParseCmd parses an article and prints it.
type ParseCmd struct {
	File        string `arg:"" help:"Article XML (.xml, .nxml or .xml.xz)" type:"existingfile"`
	Format      string `short:"f" help:"Output format" enum:"text,json,markdown,html" default:"text"`
	PMCID       string `help:"PMCID to assign; read from the article when empty"`
	DropUnknown bool   `name:"drop-unknown" help:"Discard the text of unrecognized inline tags"`
	NoRefText   bool   `name:"no-ref-text" help:"Drop the visible text of cross references"`
	RefMarkers  bool   `name:"ref-markers" help:"Mark references in Markdown and HTML output"`
	Strict      bool   `help:"Fail when parsing raised warnings"`
}

func (c *ParseCmd) Run(g *runContext) error {
	data, err := readInput(c.File)
	if err != nil {
		return err
	}
	opts := paper.Options{Split: clean.DefaultOptions(), Logger: g.log}
	if c.DropUnknown {
		opts.Split.OnUnknown = clean.Drop
	}
	opts.Split.KeepRefText = !c.NoRefText

	p, err := paper.FromXML(data, c.PMCID, opts)
	if err != nil {
		return err
	}
	if c.Strict {
		if err := p.Escalate(); err != nil {
			return err
		}
	}

	switch c.Format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*paper.Paper
			Abstract string `json:"abstract"`
			Body     string `json:"body"`
		}{p, p.AbstractText(), p.BodyText()})
	case "markdown":
		_, err = io.WriteString(os.Stdout, render.Markdown(p, render.Options{RefMarkers: c.RefMarkers}))
		return err
	case "html":
		out, err := render.HTML(render.Markdown(p, render.Options{RefMarkers: c.RefMarkers}))
		if err != nil {
			return err
		}
		_, err = io.WriteString(os.Stdout, out)
		return err
	}
	fmt.Println(p.String())
	return nil
}

// ValidateCmd validates an article.
type ValidateCmd struct {
	File string `arg:"" help:"Article XML (.xml, .nxml or .xml.xz)" type:"existingfile"`
}

func (c *ValidateCmd) Run(g *runContext) error {
	data, err := readInput(c.File)
	if err != nil {
		return err
	}
	res, err := validate.Validate(data)
	if err != nil {
		return err
	}
	if res.DTD != "" {
		fmt.Printf("DTD: %s\n", res.DTD)
	}
	if !res.Valid {
		for _, e := range res.Errors {
			fmt.Printf("  %s\n", e)
		}
		return fmt.Errorf("%s is not valid (%d errors)", c.File, len(res.Errors))
	}
	fmt.Printf("%s is valid\n", c.File)
	return nil
}

// EntrezFlags configure the E-utilities client.
type EntrezFlags struct {
	BaseURL string `name:"entrez-url" help:"E-utilities base URL" env:"ENTREZ_URL"`
	Email   string `help:"Contact email sent to NCBI" env:"ENTREZ_EMAIL"`
	APIKey  string `name:"api-key" help:"NCBI API key" env:"ENTREZ_API_KEY"`
}

func (f EntrezFlags) client() *scrape.Client {
	return scrape.NewClient(f.BaseURL, f.Email, f.APIKey)
}

// FetchCmd downloads an article.
type FetchCmd struct {
	EntrezFlags

	PMCID   string `arg:"" help:"PMCID, with or without the PMC prefix"`
	Out     string `short:"o" help:"Write the XML here instead of stdout" type:"path"`
	Archive string `help:"Store the XML xz-compressed in this directory" type:"path" env:"ARCHIVE_DIR"`
}

func (c *FetchCmd) Run(g *runContext) error {
	pmcid := paper.NormalizePMCID(c.PMCID)
	client := c.client()
	defer client.Close()

	data, err := pipeline.FetchWithRetry(context.Background(), client, pmcid, pipeline.Backoff, g.log.With("pmcid", pmcid))
	if err != nil {
		return err
	}

	if c.Archive != "" {
		a, err := scrape.NewArchive(c.Archive)
		if err != nil {
			return err
		}
		if err := a.Put(pmcid, data); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "archived %s\n", a.Path(pmcid))
	}
	if c.Out != "" {
		return os.WriteFile(c.Out, data, 0o644)
	}
	if c.Archive == "" {
		_, err = os.Stdout.Write(data)
	}
	return err
}

// SearchCmd lists PMCIDs matching an Entrez query.
type SearchCmd struct {
	EntrezFlags

	Term   []string `arg:"" help:"Entrez query terms"`
	RetMax int      `name:"retmax" help:"Maximum ids to return" default:"20"`
}

func (c *SearchCmd) Run(g *runContext) error {
	client := c.client()
	defer client.Close()

	res, err := client.Search(context.Background(), strings.Join(c.Term, " "), c.RetMax)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d matches\n", res.Count)
	for _, id := range res.IDs {
		fmt.Printf("PMC%s\n", id)
	}
	return nil
}

// readInput reads path, decompressing it when it is xz data.
func readInput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}) {
		return data, nil
	}
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xz %s: %w", path, err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	return out, nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("papergest"),
		kong.Description("PubMed Central article parser"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	log, err := logging.FromStrings(os.Stderr, CLI.LogFormat, CLI.LogLevel)
	if err != nil {
		log.Warn("invalid logging flags", "error", err)
	}

	err = ctx.Run(&runContext{log: log})
	ctx.FatalIfErrorf(err)
}
