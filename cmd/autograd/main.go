// Package main provides the autograd command line tool.
//
// Usage:
//
//	autograd version
//	autograd kinds
//	autograd [flags] gradcheck [case-filter]
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/autograd/internal/autograd"
	"github.com/born-ml/autograd/internal/gradcheck"
)

const version = "v0.1.0-dev"

var (
	flagSeed = flag.Uint64("seed", 42, "Seed of the random inputs and projections used by gradcheck.")
	flagEps  = flag.Float64("eps", gradcheck.DefaultOptions().Eps, "Finite difference step.")
	flagAtol = flag.Float64("atol", gradcheck.DefaultOptions().Atol, "Absolute tolerance of gradcheck.")
	flagRtol = flag.Float64("rtol", gradcheck.DefaultOptions().Rtol, "Relative tolerance of gradcheck.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch args[0] {
	case "version":
		fmt.Printf("autograd %s\n", version)
	case "kinds":
		err = listKinds()
	case "gradcheck":
		filter := ""
		if len(args) > 1 {
			filter = args[1]
		}
		err = runGradcheck(ctx, filter)
	default:
		klog.Errorf("Unknown command %q. See 'autograd -help'.", args[0])
		os.Exit(2)
	}
	if err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "autograd %s: reverse-mode automatic differentiation engine\n\n", version)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  version              Show version")
	fmt.Fprintln(out, "  kinds                List registered function and node kinds")
	fmt.Fprintln(out, "  gradcheck [filter]   Compare analytic and numeric gradients of every kind")
	fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
}

func listKinds() error {
	t := newTable([]string{"Kind", "Records", "Construct", "Inputs", "Fields"})
	for _, kind := range autograd.Kinds() {
		info, err := autograd.Lookup(string(kind))
		if err != nil {
			return err
		}
		construct := "-"
		if info.Constructible {
			construct = "yes"
		}
		t.row(false, string(kind), string(info.Backward), construct,
			strings.Join(info.Inputs, ", "), strings.Join(info.Fields, ", "))
	}
	fmt.Println(titleStyle.Render("Kinds"))
	fmt.Println(t.Render())
	return nil
}

func runGradcheck(ctx context.Context, filter string) error {
	rng := rand.New(rand.NewPCG(*flagSeed, *flagSeed^0x9e3779b97f4a7c15))
	cases, err := gradcheck.StandardCases(rng)
	if err != nil {
		return err
	}
	opts := gradcheck.Options{Eps: *flagEps, Atol: *flagAtol, Rtol: *flagRtol}

	t := newTable([]string{"Case", "Inputs", "Elements", "Max error", "Result"},
		lipgloss.Left, lipgloss.Right)
	var checked, failed int
	for _, c := range cases {
		if filter != "" && !strings.Contains(c.Name, filter) {
			continue
		}
		report, err := gradcheck.Check(ctx, c.Function, c.Inputs, rng, opts)
		if err != nil {
			return err
		}
		checked++
		result := "ok"
		if !report.Passed() {
			failed++
			result = "FAILED"
		}
		t.row(!report.Passed(), c.Name, fmt.Sprint(len(report.Inputs)),
			humanize.Comma(int64(report.Elements())), fmt.Sprintf("%.2e", report.MaxAbsErr()), result)
	}
	if checked == 0 {
		return errors.Errorf("no gradcheck case matches %q", filter)
	}
	fmt.Println(titleStyle.Render("Gradient checks"))
	fmt.Println(t.Render())
	fmt.Printf("%d of %d cases passed\n", checked-failed, checked)
	if failed > 0 {
		return errors.Errorf("%d gradient checks failed", failed)
	}
	return nil
}
