// cmd/snipvet/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/julianshen/snipvet/internal/cluster"
	"github.com/julianshen/snipvet/internal/config"
	"github.com/julianshen/snipvet/internal/corpus"
	"github.com/julianshen/snipvet/internal/detector"
	"github.com/julianshen/snipvet/internal/guardrail"
	"github.com/julianshen/snipvet/internal/judge"
	"github.com/julianshen/snipvet/internal/miner"
	"github.com/julianshen/snipvet/internal/output"
	"github.com/julianshen/snipvet/internal/pipeline"
	"github.com/julianshen/snipvet/internal/prototype"
	"github.com/julianshen/snipvet/internal/sink"
	"github.com/julianshen/snipvet/internal/staticrun"
	"github.com/julianshen/snipvet/internal/store"
	"github.com/julianshen/snipvet/internal/trim"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
	inPath     string
	outPath    string
	filesPath  string
	formatFlag string
	dbPath     string
)

func versionString() string {
	return fmt.Sprintf("snipvet %s (commit: %s, built: %s)", version, commit, date)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "snipvet",
		Short:         "Curate and score insecure code snippets",
		Long:          "snipvet reduces raw source files to small verified insecure snippets and scores before/after fix pairs by detector consensus.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&inPath, "in", "", "input NDJSON path")
	rootCmd.PersistentFlags().StringVar(&outPath, "out", "", "output NDJSON path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override SQLite database path")

	rootCmd.AddCommand(
		detectCmd(),
		trimCmd(),
		scoreCmd(),
		verifyCmd(),
		reduceCmd(),
		staticCmd(),
		judgeCmd(),
		aggregateCmd(),
		mineCmd(),
		reportCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(versionString())
		},
	}
}

// loadConfig loads the config file (or defaults) and applies flag overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = "snipvet.toml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	return cfg, nil
}

func loadRegistry(cfg *config.Config) (*sink.Registry, error) {
	if cfg.Detect.RegistryPath == "" {
		return sink.DefaultRegistry(), nil
	}
	return sink.LoadRegistry(cfg.Detect.RegistryPath)
}

func buildEmbedder(cfg *config.Config) (prototype.Embedder, error) {
	switch cfg.Embedding.Backend {
	case "hash", "":
		return prototype.NewHashEmbedder(cfg.Embedding.Dim), nil
	case "openai":
		key, err := config.ResolveAPIKey(cfg.Embedding.APIKeySource, cfg.Embedding.APIKey, "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		return prototype.NewOpenAIEmbedder(key), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Embedding.Backend)
	}
}

func buildScorer(ctx context.Context, cfg *config.Config) (*prototype.Scorer, prototype.Embedder, error) {
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, nil, err
	}
	positives, err := prototype.LoadExemplars(cfg.Score.PositivesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading positives: %w", err)
	}
	var negatives []prototype.Exemplar
	if cfg.Score.NegativesPath != "" {
		negatives, err = prototype.LoadExemplars(cfg.Score.NegativesPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading negatives: %w", err)
		}
	}
	set, err := prototype.BuildSet(ctx, embedder, positives, negatives)
	if err != nil {
		return nil, nil, err
	}
	return prototype.NewScorer(set, embedder, cfg.Score.Threshold), embedder, nil
}

func trimConfig(cfg *config.Config) trim.Config {
	return trim.Config{
		MaxLines:   cfg.Trim.MaxLines,
		MinLines:   cfg.Trim.MinLines,
		Depth:      cfg.Trim.Depth,
		MinDensity: cfg.Trim.MinDensity,
	}
}

func staticTimeouts(cfg *config.Config) staticrun.Timeouts {
	t := staticrun.DefaultTimeouts()
	if cfg.Static.BanditTimeout > 0 {
		t.Bandit = time.Duration(cfg.Static.BanditTimeout) * time.Second
	}
	if cfg.Static.SemgrepTimeout > 0 {
		t.Semgrep = time.Duration(cfg.Static.SemgrepTimeout) * time.Second
	}
	if cfg.Static.CodeQLTimeout > 0 {
		t.CodeQL = time.Duration(cfg.Static.CodeQLTimeout) * time.Second
	}
	return t
}

// readFiles loads the SourceFile corpus and reports skipped malformed lines.
func readFiles(path string) ([]*corpus.SourceFile, error) {
	files, bad, err := corpus.ReadNDJSONFile[corpus.SourceFile](path)
	if err != nil {
		return nil, err
	}
	reportBadLines(bad)
	out := make([]*corpus.SourceFile, len(files))
	for i := range files {
		out[i] = &files[i]
	}
	return out, nil
}

func reportBadLines(bad []corpus.DecodeError) {
	for _, b := range bad {
		fmt.Fprintf(os.Stderr, "skipping: %v\n", b)
	}
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Scan source files for sink-centered candidate windows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			files, err := readFiles(inPath)
			if err != nil {
				return err
			}

			d := sink.NewDetector(registry, cfg.Detect.Radius)
			var candidates []corpus.Candidate
			for _, f := range files {
				candidates = append(candidates, d.Detect(f)...)
			}
			return corpus.WriteNDJSONFile(outPath, candidates)
		},
	}
}

func trimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Trim candidate windows to their sink dependency chains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			files, err := readFiles(filesPath)
			if err != nil {
				return err
			}
			byPath := make(map[string]*corpus.SourceFile, len(files))
			for _, f := range files {
				byPath[f.Ref.Path] = f
			}

			candidates, bad, err := corpus.ReadNDJSONFile[corpus.Candidate](inPath)
			if err != nil {
				return err
			}
			reportBadLines(bad)

			trimmer := trim.NewTrimmer(trimConfig(cfg))
			var trimmed []corpus.Candidate
			dropped := 0
			for _, cand := range candidates {
				f, ok := byPath[cand.Source.Path]
				if !ok {
					fmt.Fprintf(os.Stderr, "no source file for %s\n", cand.Source.Path)
					continue
				}
				out, err := trimmer.Trim(f, cand)
				if err != nil {
					if trim.IsDrop(err) {
						dropped++
						continue
					}
					return err
				}
				trimmed = append(trimmed, out)
			}
			fmt.Fprintf(os.Stderr, "trimmed %d, dropped %d\n", len(trimmed), dropped)
			return corpus.WriteNDJSONFile(outPath, trimmed)
		},
	}
	cmd.Flags().StringVar(&filesPath, "files", "", "source file corpus NDJSON")
	return cmd
}

func scoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score",
		Short: "Score trimmed candidates against prototype banks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			scorer, _, err := buildScorer(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			candidates, bad, err := corpus.ReadNDJSONFile[corpus.Candidate](inPath)
			if err != nil {
				return err
			}
			reportBadLines(bad)

			var scored []corpus.ScoredCandidate
			dropped := 0
			for _, cand := range candidates {
				sc, err := scorer.Score(cmd.Context(), cand)
				if err != nil {
					if errors.Is(err, prototype.ErrBelowThreshold) {
						dropped++
						continue
					}
					return err
				}
				scored = append(scored, sc)
			}
			prototype.SortScored(scored)
			fmt.Fprintf(os.Stderr, "scored %d, dropped %d\n", len(scored), dropped)
			return corpus.WriteNDJSONFile(outPath, scored)
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run the guardrail over scored candidates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scored, bad, err := corpus.ReadNDJSONFile[corpus.ScoredCandidate](inPath)
			if err != nil {
				return err
			}
			reportBadLines(bad)

			verifier := guardrail.NewVerifier()
			snippets := make([]corpus.VerifiedSnippet, 0, len(scored))
			confirmed := 0
			for _, sc := range scored {
				s := verifier.Apply(sc)
				if s.Verified {
					confirmed++
				}
				snippets = append(snippets, s)
			}
			fmt.Fprintf(os.Stderr, "verified %d of %d\n", confirmed, len(snippets))
			return corpus.WriteNDJSONFile(outPath, snippets)
		},
	}
}

func reduceCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "pipeline",
		Aliases: []string{"reduce"},
		Short:   "Run detect, trim, score, and verify over a file corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			scorer, _, err := buildScorer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			files, err := readFiles(inPath)
			if err != nil {
				return err
			}

			reducer := pipeline.NewReducer(
				sink.NewDetector(registry, cfg.Detect.Radius),
				trim.NewTrimmer(trimConfig(cfg)),
				scorer,
				guardrail.NewVerifier(),
				pipeline.ReducerOptions{
					Concurrency:    cfg.Pipeline.Concurrency,
					DedupThreshold: cfg.Pipeline.DedupThreshold,
				},
			)
			res := reducer.Run(cmd.Context(), files)

			db, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.SaveSnippets(res.Snippets); err != nil {
				return err
			}
			if err := db.SaveRun(res.RunID, "reduce", res.Stats); err != nil {
				return err
			}

			if err := corpus.WriteNDJSONFile(outPath, res.Snippets); err != nil {
				return err
			}
			return printReport(&output.Report{
				RunID:       res.RunID,
				Kind:        "reduce",
				GeneratedAt: time.Now().UTC(),
				Reduce:      &res.Stats,
				Errors:      res.Errors,
			})
		},
	}
}

func staticCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "static",
		Short: "Run static analyzers over pair records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runner := staticrun.NewRunner(staticTimeouts(cfg),
				staticrun.BanditTool{},
				staticrun.SemgrepTool{Packs: cfg.Static.SemgrepPacks},
				staticrun.CodeQLTool{Suite: cfg.Static.CodeQLSuite},
			)
			return runPairStage(cmd.Context(), cfg, pipeline.VerifierOptions{
				Runner:      runner,
				Concurrency: cfg.Pipeline.Concurrency,
			}, "static")
		},
	}
}

func judgeCmd() *cobra.Command {
	var stub bool
	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Run the LLM judge and guardrail rules over pair records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var j judge.Judge = judge.StubJudge{}
			if !stub {
				j, err = openAIJudge(cfg)
				if err != nil {
					return err
				}
			}
			return runPairStage(cmd.Context(), cfg, pipeline.VerifierOptions{
				Judge:       j,
				Rules:       judge.RulePack(),
				Concurrency: cfg.Pipeline.Concurrency,
			}, "judge")
		},
	}
	cmd.Flags().BoolVar(&stub, "stub", false, "use the offline pattern judge")
	return cmd
}

func aggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Derive combination keys, trust scores, and pair verdicts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runPairStage(cmd.Context(), cfg, pipeline.VerifierOptions{
				Aggregator:  detector.NewAggregator(),
				Concurrency: cfg.Pipeline.Concurrency,
			}, "aggregate")
		},
	}
}

// runPairStage reads pair records, runs one verification stage, persists the
// results, and writes the updated records.
func runPairStage(ctx context.Context, cfg *config.Config, opts pipeline.VerifierOptions, kind string) error {
	records, bad, err := corpus.ReadNDJSONFile[corpus.PairRecord](inPath)
	if err != nil {
		return err
	}
	reportBadLines(bad)

	res := pipeline.NewVerifier(opts).Run(ctx, records)

	db, err := store.NewStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	for _, rec := range res.Records {
		if err := db.SavePair(rec); err != nil {
			return err
		}
	}
	if err := db.SaveRun(res.RunID, kind, res.Stats); err != nil {
		return err
	}

	if err := corpus.WriteNDJSONFile(outPath, res.Records); err != nil {
		return err
	}
	return printReport(&output.Report{
		RunID:       res.RunID,
		Kind:        kind,
		GeneratedAt: time.Now().UTC(),
		Pairs:       &res.Stats,
		Errors:      res.Errors,
	})
}

func mineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "Mine GitHub for security-fix pairs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := config.ResolveAPIKey(cfg.Mine.TokenSource, cfg.Mine.Token, "GITHUB_TOKEN")
			if err != nil {
				return err
			}
			m := miner.NewMiner(miner.Options{
				Token:             token,
				RequestsPerSecond: cfg.Mine.RequestsPerSecond,
				MaxPairs:          cfg.Mine.MaxPairs,
			})

			db, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			pairs, err := m.Mine(cmd.Context(), miner.Queries(nil))
			if err != nil {
				return err
			}

			// Skip pairs already stored so repeated mining runs resume.
			fresh := pairs[:0]
			for _, rec := range pairs {
				seen, err := db.HasPair(rec.Key)
				if err != nil {
					return err
				}
				if seen {
					continue
				}
				if err := db.SavePair(rec); err != nil {
					return err
				}
				fresh = append(fresh, rec)
			}
			fmt.Fprintf(os.Stderr, "mined %d pairs, %d new\n", len(pairs), len(fresh))
			return corpus.WriteNDJSONFile(outPath, fresh)
		},
	}
}

func reportCmd() *cobra.Command {
	var snippetsPath, pairsPath string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Cluster snippets and render the consensus report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			report := &output.Report{
				Kind:        "report",
				GeneratedAt: time.Now().UTC(),
			}

			if snippetsPath != "" {
				snippets, bad, err := corpus.ReadNDJSONFile[corpus.VerifiedSnippet](snippetsPath)
				if err != nil {
					return err
				}
				reportBadLines(bad)

				verified := snippets[:0]
				for _, s := range snippets {
					if s.Verified {
						verified = append(verified, s)
					}
				}

				embedder, err := buildEmbedder(cfg)
				if err != nil {
					return err
				}
				texts := make([]string, len(verified))
				for i, s := range verified {
					texts[i] = s.Text
				}
				vectors, err := embedder.Embed(cmd.Context(), texts)
				if err != nil {
					return err
				}

				k := cfg.Pipeline.ClusterCount
				if k > len(verified) {
					k = len(verified)
				}
				var clusterer cluster.Clusterer = cluster.KMeans{}
				if k <= 1 {
					clusterer = cluster.SingleGroup{}
					k = 1
				}
				groups, err := cluster.GroupSnippets(clusterer, verified, vectors, k, cfg.Pipeline.ClusterSeed)
				if err != nil {
					return err
				}
				report.Groups = groups
			}

			if pairsPath != "" {
				records, bad, err := corpus.ReadNDJSONFile[corpus.PairRecord](pairsPath)
				if err != nil {
					return err
				}
				reportBadLines(bad)
				report.Consensus = cluster.ConsensusMatrix(records)
			}

			return printReport(report)
		},
	}
	cmd.Flags().StringVar(&snippetsPath, "snippets", "", "verified snippet NDJSON")
	cmd.Flags().StringVar(&pairsPath, "pairs", "", "aggregated pair NDJSON")
	cmd.Flags().StringVar(&formatFlag, "format", "json", "report format: json, markdown")
	return cmd
}

func printReport(report *output.Report) error {
	formatted, err := output.ForFormat(formatFlag).Format(report)
	if err != nil {
		return err
	}
	fmt.Println(string(formatted))
	return nil
}

func openAIJudge(cfg *config.Config) (judge.Judge, error) {
	key, err := config.ResolveAPIKey(cfg.Judge.APIKeySource, cfg.Judge.APIKey, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	return judge.NewOpenAIJudge(openai.NewClient(key), cfg.Judge.Model), nil
}
