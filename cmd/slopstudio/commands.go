package main

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"text/tabwriter"
	"time"

	"github.com/keagan/slopstudio/internal/engine"
	"github.com/keagan/slopstudio/internal/gui"
	"github.com/keagan/slopstudio/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	snapshotCmd.Flags().StringP("at", "t", "0", "position (SS.mmm, MM:SS or HH:MM:SS)")
	snapshotCmd.Flags().StringP("output", "o", "snapshot.png", "output image (.png or .jpg)")
	snapshotCmd.Flags().Bool("raw", false, "write the source frame without layers")
	layersCmd.Flags().StringP("at", "t", "0", "position (SS.mmm, MM:SS or HH:MM:SS)")
	exportCmd.Flags().StringP("local", "l", "", "render locally to this file instead of asking the director")
	exportCmd.Flags().String("preset", "medium", "x264 preset for local renders")
	exportCmd.Flags().Int("crf", 23, "x264 quality for local renders")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsRmCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload [video]",
	Short: "Upload a video and start a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !util.FileExists(path) {
			return fmt.Errorf("video not found: %s", path)
		}
		if !util.HasExtension(path, util.VideoExtensions...) {
			return fmt.Errorf("unsupported video format: %s", path)
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		s, err := engine.Bootstrap(cmd.Context(), rt.logger, rt.client, path, rt.options())
		if err != nil {
			return err
		}
		defer s.Close()

		counts := s.State().Counts()
		fmt.Fprintf(cmd.OutOrStdout(), "session  %s\nvideo    %s\ncaptions %d\n",
			s.ID(), s.VideoURL(), counts["subtitles"])
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [session]",
	Short: "Talk to the director about a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		s, err := rt.resume(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		return runShell(cmd.Context(), s, cmd.OutOrStdout())
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview [session]",
	Short: "Open the preview window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		s, err := rt.resumeWithMedia(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		raster, err := rt.rasterizer()
		if err != nil {
			return err
		}
		gui.NewEditor(rt.logger, s, raster, s.Frames()).Run(cmd.Context())
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [session]",
	Short: "Composite a single frame to an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := positionFlag(cmd)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		if !util.HasExtension(output, ".png", ".jpg", ".jpeg") {
			return fmt.Errorf("snapshot must be .png or .jpg: %s", output)
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if raw, _ := cmd.Flags().GetBool("raw"); raw {
			return rawSnapshot(cmd, rt, args[0], at, output)
		}

		s, err := rt.resumeWithMedia(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		raster, err := rt.rasterizer()
		if err != nil {
			return err
		}
		// visuals are drawn from the cache
		s.Wait()

		var frame image.Image
		if s.Frames() != nil {
			exec, err := rt.executor()
			if err != nil {
				return err
			}
			w, h := raster.Size()
			still, err := exec.ReadFrame(cmd.Context(), s.VideoPath(), at, w, h)
			if err != nil {
				return err
			}
			frame = still
			if p := s.Pipeline(); p != nil {
				if err := p.Capture(cmd.Context(), still); err != nil {
					log.Warn().Err(err).Msg("no foreground matte for snapshot")
				}
			}
		}

		img := raster.Draw(s.Compositor().Compose(at), frame)
		if err := writeImage(output, img); err != nil {
			return err
		}
		log.Info().Str("output", output).Float64("at", at).Msg("snapshot written")
		return nil
	},
}

func rawSnapshot(cmd *cobra.Command, rt *runtime, id string, at float64, output string) error {
	stored, err := rt.store.LoadSession(cmd.Context(), id)
	if err != nil {
		return err
	}
	if !util.FileExists(stored.VideoPath) {
		return fmt.Errorf("source video not found locally: %q", stored.VideoPath)
	}
	exec, err := rt.executor()
	if err != nil {
		return err
	}
	if err := util.EnsureParentDir(output); err != nil {
		return err
	}
	if err := exec.ExtractFrame(cmd.Context(), stored.VideoPath, at, output); err != nil {
		return err
	}
	log.Info().Str("output", output).Float64("at", at).Msg("source frame written")
	return nil
}

func writeImage(path string, img image.Image) error {
	if err := util.EnsureParentDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if util.HasExtension(path, ".png") {
		err = png.Encode(f, img)
	} else {
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 92})
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

var layersCmd = &cobra.Command{
	Use:   "layers [session]",
	Short: "Print the layers active at a position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := positionFlag(cmd)
		if err != nil {
			return err
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		s, err := rt.resume(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		printLayers(cmd.OutOrStdout(), s.Compositor().Compose(at))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [session]",
	Short: "Render the session",
	Long: "Ask the director to render the session and print the download URL, " +
		"or with --local composite every frame here and encode it with ffmpeg.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetString("local")

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if local == "" {
			s, err := rt.resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			url, err := s.Export(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		}

		s, err := rt.resumeWithMedia(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		raster, err := rt.rasterizer()
		if err != nil {
			return err
		}
		exec, err := rt.executor()
		if err != nil {
			return err
		}
		s.Wait()

		preset, _ := cmd.Flags().GetString("preset")
		crf, _ := cmd.Flags().GetInt("crf")
		started := time.Now()
		err = s.Render(cmd.Context(), exec, raster, engine.RenderOptions{
			Output: local,
			FPS:    rt.cfg.Video.DecodeFPS,
			CRF:    crf,
			Preset: preset,
			OnFrame: func(done, total int) {
				if done%150 == 0 || done == total {
					log.Info().Int("frame", done).Int("total", total).Msg("rendering")
				}
			},
		})
		if err != nil {
			return err
		}
		log.Info().Str("output", local).Dur("took", time.Since(started)).Msg("render complete")
		return nil
	},
}

var overlaysCmd = &cobra.Command{
	Use:   "overlays [session]",
	Short: "Fetch and list the overlay images of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		s, err := rt.resume(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer s.Close()
		s.Wait()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SIZE\tURL")
		for _, v := range s.State().Visuals {
			size := "unavailable"
			if img, ok := rt.assets.Lookup(v.URL); ok {
				b := img.Bounds()
				size = fmt.Sprintf("%dx%d", b.Dx(), b.Dy())
			}
			fmt.Fprintf(tw, "%s\t%s\n", size, v.URL)
		}
		log.Debug().Strs("cached", rt.assets.List()).Msg("overlay cache")
		return tw.Flush()
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Stored session commands",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		list, err := rt.store.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUPDATED\tVIDEO")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.UpdatedAt.Format(time.DateTime), s.VideoPath)
		}
		return tw.Flush()
	},
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm [session...]",
	Short: "Delete stored sessions and their transcripts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		for _, id := range args {
			if err := rt.store.DeleteSession(cmd.Context(), id); err != nil {
				return err
			}
			log.Info().Str("session", id).Msg("session deleted")
		}
		return nil
	},
}

func positionFlag(cmd *cobra.Command) (float64, error) {
	raw, _ := cmd.Flags().GetString("at")
	at, err := util.ParseSeconds(raw)
	if err != nil {
		return 0, fmt.Errorf("--at: %w", err)
	}
	return at, nil
}
