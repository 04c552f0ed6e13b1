// Command cc-analyse runs offline queries over an already-mined forms.d
// corpus: aggregate percentages, every stored qualifying form, every
// enumerated trigger-attribute value, or forms/elements matching a pattern
// or element query read from stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miku/ccforms/config"
	"github.com/miku/ccforms/storage"
)

var (
	corpusDir string
	workers   int
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "cc-analyse",
		Short: "query a mined Common Crawl forms corpus",
	}
	root.PersistentFlags().StringVar(&corpusDir, "corpus", "", "corpus directory, defaults to config/XDG data dir")
	root.PersistentFlags().IntVar(&workers, "workers", 0, "parallel fold workers, 0 uses the package default")

	root.AddCommand(newSummaryCommand())
	root.AddCommand(newFormsCommand())
	root.AddCommand(newPatternsCommand())
	root.AddCommand(newFindPatternCommand())
	root.AddCommand(newFindInputCommand())
	return root
}

func resolveCorpusDir() (string, error) {
	if corpusDir != "" {
		return corpusDir, nil
	}
	v, err := config.Init()
	if err != nil {
		return "", err
	}
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return "", err
	}
	return cfg.CorpusDir, nil
}

func newSummaryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "print total WARCs processed, total URLs seen, and the undecodable/pattern percentages",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveCorpusDir()
			if err != nil {
				return err
			}
			c := storage.NewCorpus(dir)
			urls, err := c.List()
			if err != nil {
				return err
			}
			summary, err := c.FoldAll(context.Background(), workers)
			if err != nil {
				return err
			}

			nrURLsSeen := summary.NrUnknownEncoding + summary.NrURLsWithoutPatterns + int64(len(summary.URLsWithPatternForms))
			var nrFormsWithPatterns int64
			for _, u := range summary.URLsWithPatternForms {
				nrFormsWithPatterns += int64(len(u.WithPatterns))
			}
			nrFormsSeen := summary.NrFormsWithoutPatterns + nrFormsWithPatterns

			fmt.Printf("warcs_processed: %d\n", len(urls))
			fmt.Printf("urls_seen: %d\n", nrURLsSeen)
			fmt.Printf("pct_undecodable: %s\n", percent(summary.NrUnknownEncoding, nrURLsSeen))
			fmt.Printf("pct_urls_with_patterns: %s\n", percent(int64(len(summary.URLsWithPatternForms)), nrURLsSeen))
			fmt.Printf("pct_forms_with_patterns: %s\n", percent(nrFormsWithPatterns, nrFormsSeen))
			return nil
		},
	}
}

func percent(n, total int64) string {
	if total == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", float64(n)*100/float64(total))
}

func newFormsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forms",
		Short: "print each qualifying form on one line, CR and LF stripped",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveCorpusDir()
			if err != nil {
				return err
			}
			c := storage.NewCorpus(dir)
			forms, err := c.AllForms()
			if err != nil {
				return err
			}
			for _, fm := range forms {
				fmt.Println(oneLine(fm.Form))
			}
			return nil
		},
	}
}

func newPatternsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "print every extracted pattern/data-val-regex-pattern/ng-pattern value, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveCorpusDir()
			if err != nil {
				return err
			}
			c := storage.NewCorpus(dir)
			patterns, err := c.Patterns()
			if err != nil {
				return err
			}
			for _, p := range patterns {
				fmt.Println(oneLine(p))
			}
			return nil
		},
	}
}

func newFindPatternCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "find-pattern",
		Short: "read one pattern from stdin, print every form containing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			needle, err := readLine(os.Stdin)
			if err != nil {
				return err
			}
			dir, err := resolveCorpusDir()
			if err != nil {
				return err
			}
			c := storage.NewCorpus(dir)
			matches, err := c.FindPattern(needle)
			if err != nil {
				return err
			}
			for _, fm := range matches {
				fmt.Printf("URL: %s\n", fm.URL)
				fmt.Println("<!-- BEGIN FORM --!>")
				fmt.Println(fm.Form)
				fmt.Println("<!-- END FORM --!>")
			}
			return nil
		},
	}
}

func newFindInputCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "find-input",
		Short: "read one element query from stdin, print each matching descendant element source",
		RunE: func(cmd *cobra.Command, args []string) error {
			needle, err := readLine(os.Stdin)
			if err != nil {
				return err
			}
			dir, err := resolveCorpusDir()
			if err != nil {
				return err
			}
			c := storage.NewCorpus(dir)
			elements, err := c.FindInput(needle)
			if err != nil {
				return err
			}
			for _, e := range elements {
				fmt.Println(oneLine(e))
			}
			return nil
		},
	}
}

func readLine(r *os.File) (string, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("cc-analyse: expected one line on stdin")
	}
	return sc.Text(), nil
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}
