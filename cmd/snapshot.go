package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mj1618/smartscript/internal/annotate"
	"github.com/mj1618/smartscript/internal/model"
	"github.com/mj1618/smartscript/internal/output"
	"github.com/mj1618/smartscript/internal/page"
	"github.com/mj1618/smartscript/internal/platform"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture the device UI and classify the page",
	Long: `Capture the device's UI hierarchy, print the flattened element list with
the recognized page state, and optionally save the snapshot or an annotated
screenshot.

Examples:
  smartscript snapshot --serial emulator-5554
  smartscript snapshot --clickable --save ./snapshots
  smartscript snapshot --screenshot screen.png --label ids
  smartscript snapshot --from ./snapshots/com.app-1707500000.json --roles btn,input
  smartscript snapshot --bounds 0,1536,1080,384 --prune`,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	addDeviceFlags(snapshotCmd.Flags())
	snapshotCmd.Flags().Bool("clickable", false, "Only list clickable elements")
	snapshotCmd.Flags().String("text", "", "Only list elements containing this text")
	snapshotCmd.Flags().StringSlice("roles", nil, "Only list these roles (e.g. btn,input,txt)")
	snapshotCmd.Flags().String("bounds", "", "Only list elements intersecting x,y,w,h")
	snapshotCmd.Flags().Bool("prune", false, "Drop anonymous containers")
	snapshotCmd.Flags().String("from", "", "Classify a saved snapshot instead of capturing one")
	snapshotCmd.Flags().String("save", "", "Save the snapshot as JSON in this directory")
	snapshotCmd.Flags().String("screenshot", "", "Write a screenshot with element boxes to this file")
	snapshotCmd.Flags().String("label", "coords", "Screenshot labels: coords, ids, text")
}

func parseLabelMode(s string) (annotate.LabelMode, error) {
	switch s {
	case "coords":
		return annotate.LabelCoords, nil
	case "ids":
		return annotate.LabelIDs, nil
	case "text":
		return annotate.LabelText, nil
	}
	return 0, fmt.Errorf("unsupported label mode: %s (use coords, ids or text)", s)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	clickable, _ := cmd.Flags().GetBool("clickable")
	text, _ := cmd.Flags().GetString("text")
	saveDir, _ := cmd.Flags().GetString("save")
	shotPath, _ := cmd.Flags().GetString("screenshot")
	label, _ := cmd.Flags().GetString("label")
	roles, _ := cmd.Flags().GetStringSlice("roles")
	boundsFlag, _ := cmd.Flags().GetString("bounds")
	prune, _ := cmd.Flags().GetBool("prune")
	from, _ := cmd.Flags().GetString("from")
	mode, err := parseLabelMode(label)
	if err != nil {
		return err
	}
	var bbox *[4]int
	if boundsFlag != "" {
		b, err := model.ParseBounds(boundsFlag)
		if err != nil {
			return err
		}
		bbox = &b
	}
	if from != "" && shotPath != "" {
		return fmt.Errorf("--screenshot needs a live device and cannot be combined with --from")
	}

	ctx := commandContext(cmd)
	var (
		snap     *model.Snapshot
		provider *platform.Provider
	)
	if from != "" {
		if snap, err = model.LoadSnapshot(from); err != nil {
			return err
		}
		provider = &platform.Provider{Recognizer: page.New()}
	} else {
		p, release, err := newProvider(deviceConfig(cmd))
		if err != nil {
			return err
		}
		defer release()
		provider = p
		if snap, err = provider.Device.CaptureSnapshot(ctx); err != nil {
			return err
		}
	}
	state, err := provider.Recognizer.Classify(ctx, snap)
	if err != nil {
		return err
	}

	elements := snap.Elements
	if prune {
		elements = model.PruneEmptyGroups(elements)
	}
	elements = model.FilterElements(model.FilterByText(elements, text), model.ExpandRoles(roles), bbox)
	var flat []model.FlatElement
	for _, el := range model.FlattenElements(elements) {
		if clickable && !el.Clickable {
			continue
		}
		flat = append(flat, el)
	}

	result := output.SnapshotResult{
		Package:  snap.Package,
		Activity: snap.Activity,
		Page:     state,
		TS:       snap.TS.Unix(),
		Elements: flat,
	}
	if saveDir != "" {
		name := snap.Package
		if name == "" {
			name = "snapshot"
		}
		result.Saved, err = model.SaveSnapshot(saveDir, name, snap)
		if err != nil {
			return err
		}
	}

	if shotPath != "" {
		if provider.Screenshotter == nil {
			return fmt.Errorf("screenshots are not supported by this transport")
		}
		data, err := provider.Screenshotter.CaptureScreenshot(ctx)
		if err != nil {
			return err
		}
		var boxes []annotate.Box
		model.WalkElements(snap.Elements, func(el *model.Element, _ []*model.Element) bool {
			if el.Clickable {
				boxes = append(boxes, annotate.Box{Element: *el})
			}
			return true
		})
		w, h := snap.ScreenSize()
		data, err = annotate.PNG(data, boxes, [2]int{w, h}, mode)
		if err != nil {
			return err
		}
		if err := os.WriteFile(shotPath, data, 0o644); err != nil {
			return err
		}
	}

	return output.Print(result)
}
