package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Houngansi/SuspenseCore-sub009/internal/config"
	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/loadout"
	"github.com/Houngansi/SuspenseCore-sub009/internal/rules"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/server"
)

// reportPlayer is the id of the throwaway player a report is built for.
const reportPlayer = "report"

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Loadout     string
	PlayerLevel int
	Class       string
	Equip       []string // slot=ITEM
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a compliance report for a loadout",
		Long: `Build a player from a loadout's start items, optionally force-equip
further items, and re-check every occupied slot against the rules.

Examples:
  suspensed report
  suspensed report --loadout ./loadouts/assault.yaml --player-level 5
  suspensed report --equip primary=M4A1 --equip body_armor=6B43_6A_Zabralo --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Loadout, "loadout", "", "loadout file or CUE directory (default: built-in)")
	cmd.Flags().IntVar(&opts.PlayerLevel, "player-level", 0, "override the character level")
	cmd.Flags().StringVar(&opts.Class, "class", "", "override the character class tag")
	cmd.Flags().StringArrayVar(&opts.Equip, "equip", nil, "force-equip slot=ITEM before reporting (repeatable)")

	return cmd
}

func runReport(ctx context.Context, opts *ReportOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	lo := loadout.Default()
	if opts.Loadout != "" {
		var err error
		if lo, err = loadout.Load(opts.Loadout); err != nil {
			_ = f.Error(ErrCodeLoadout, "failed to load loadout", issuesOf(err))
			return WrapExitError(ExitCommandError, "failed to load loadout", err)
		}
	}

	keys := security.NewKeyStorage()
	if err := keys.GenerateNewKey(security.MinKeyLength); err != nil {
		return WrapExitError(ExitCommandError, "generate session key", err)
	}
	cfg := config.Default()
	cfg.Store.Path = ""
	svc, err := server.New(cfg, lo, server.WithKeys(keys))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create service", err)
	}
	defer svc.Close()

	if err := svc.AddPlayer(ctx, reportPlayer, lo); err != nil {
		return WrapExitError(ExitCommandError, "failed to add player", err)
	}
	if opts.PlayerLevel > 0 || opts.Class != "" {
		ch, err := svc.Character(reportPlayer)
		if err != nil {
			return WrapExitError(ExitCommandError, "read character", err)
		}
		if opts.PlayerLevel > 0 {
			ch.Level = opts.PlayerLevel
		}
		if opts.Class != "" {
			ch.Class = equipment.Tag(opts.Class)
		}
		if err := svc.SetCharacter(reportPlayer, ch); err != nil {
			return WrapExitError(ExitCommandError, "set character", err)
		}
	}

	for i, arg := range opts.Equip {
		if err := forceEquip(ctx, svc, lo, arg, uint64(i+1)); err != nil {
			_ = f.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "equip failed", err)
		}
		f.VerboseLog("Equipped %s", arg)
	}

	if f.JSON() {
		report, err := svc.Report(reportPlayer)
		if err != nil {
			return WrapExitError(ExitCommandError, "build report", err)
		}
		return f.Success(reportJSON{Loadout: lo.Name, Rate: report.Rate(), Compliance: report})
	}
	text, err := svc.ReportText(reportPlayer)
	if err != nil {
		return WrapExitError(ExitCommandError, "build report", err)
	}
	fmt.Fprintf(f.Writer, "Loadout: %s\n", lo.Name)
	fmt.Fprint(f.Writer, text)
	return nil
}

type reportJSON struct {
	Loadout    string           `json:"loadout"`
	Rate       float64          `json:"compliance_rate"`
	Compliance rules.Compliance `json:"compliance"`
}

// forceEquip parses "slot=ITEM" and submits a forced equip for it.
// Overridable rule failures are accepted; structural ones are not.
func forceEquip(ctx context.Context, svc *server.Service, lo *loadout.Loadout, arg string, nonce uint64) error {
	slot, item, ok := strings.Cut(arg, "=")
	if !ok || slot == "" || item == "" {
		return fmt.Errorf("invalid --equip %q: want slot=ITEM", arg)
	}
	idx := lo.SlotIndex(slot)
	if idx == equipment.NoSlot {
		return fmt.Errorf("invalid --equip %q: unknown slot %q", arg, slot)
	}

	ids := equipment.UUIDv7Generator{}
	req := equipment.OperationRequest{
		OperationID: ids.NewID(),
		PlayerID:    reportPlayer,
		Type:        equipment.OpEquip,
		SourceSlot:  equipment.NoSlot,
		TargetSlot:  idx,
		Item:        equipment.NewItem(equipment.NormalizeID(item), ids.NewID()),
		Timestamp:   time.Now(),
		Sequence:    nonce,
		Nonce:       nonce,
		Force:       true,
	}
	sig, err := svc.SignRequest(req)
	if err != nil {
		return err
	}
	req.Signature = sig

	if res := svc.Submit(ctx, req, ""); !res.Success {
		return fmt.Errorf("equip %s into %s: %s: %s", item, slot, res.FailureType, res.Message)
	}
	return nil
}
