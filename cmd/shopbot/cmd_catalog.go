package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"shopbot/pkg/catalog"
	"shopbot/pkg/store"
)

// seedFile is the YAML layout accepted by `catalog import`.
type seedFile struct {
	Products []catalog.Product `yaml:"products"`
	FAQs     []catalog.FAQ     `yaml:"faqs"`
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage products, FAQ entries and contacts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or replace products and FAQ entries from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(db *store.SQLite) error {
				return importCatalog(cmd.Context(), db, args[0], cmd.OutOrStdout())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(db *store.SQLite) error {
				return listCatalog(cmd.Context(), db, cmd.OutOrStdout())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "contacts",
		Short: "List recorded contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(db *store.SQLite) error {
				return listContacts(cmd.Context(), db, cmd.OutOrStdout())
			})
		},
	})
	return cmd
}

func withStore(fn func(db *store.SQLite) error) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open catalog database: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func loadSeedFile(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := seed.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &seed, nil
}

func (s *seedFile) validate() error {
	names := map[string]bool{}
	for i, p := range s.Products {
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Keyword) == "" {
			return fmt.Errorf("products[%d]: name and keyword are required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("products[%d]: duplicate name %q", i, p.Name)
		}
		names[p.Name] = true
		for j, el := range p.Elements {
			switch el.Type {
			case catalog.ElementText:
				if el.Content == "" {
					return fmt.Errorf("products[%d].elements[%d]: text element needs content", i, j)
				}
			case catalog.ElementImage:
				if el.ImageURL == "" {
					return fmt.Errorf("products[%d].elements[%d]: image element needs image_url", i, j)
				}
			default:
				return fmt.Errorf("products[%d].elements[%d]: unknown type %q", i, j, el.Type)
			}
		}
	}
	for i, f := range s.FAQs {
		if strings.TrimSpace(f.Question) == "" || strings.TrimSpace(f.Answer) == "" {
			return fmt.Errorf("faqs[%d]: question and answer are required", i)
		}
	}
	return nil
}

func importCatalog(ctx context.Context, db *store.SQLite, path string, out io.Writer) error {
	seed, err := loadSeedFile(path)
	if err != nil {
		return err
	}
	for _, p := range seed.Products {
		if _, err := db.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("import product %q: %w", p.Name, err)
		}
	}
	for _, f := range seed.FAQs {
		if _, err := db.UpsertFAQ(ctx, f); err != nil {
			return fmt.Errorf("import faq %q: %w", f.Question, err)
		}
	}
	fmt.Fprintf(out, "✓ Imported %d products and %d FAQ entries\n", len(seed.Products), len(seed.FAQs))
	return nil
}

func listCatalog(ctx context.Context, db *store.SQLite, out io.Writer) error {
	products, err := db.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		fmt.Fprintln(out, "No products.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKEYWORD\tSYNONYM\tELEMENTS")
	for _, p := range products {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", p.ID, p.Name, p.Keyword, p.Synonym, len(p.Elements))
	}
	return w.Flush()
}

func listContacts(ctx context.Context, db *store.SQLite, out io.Writer) error {
	contacts, err := db.ListContacts(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHONE\tNAME\tFIRST MESSAGE")
	for _, c := range contacts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Phone, c.Name, c.FirstMessageAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
