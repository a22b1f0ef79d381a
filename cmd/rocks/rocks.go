package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"

	"github.com/space-rocks/rocks/internal/pkg/application/schema"
	"github.com/space-rocks/rocks/internal/pkg/infrastructure/storage"
	"github.com/space-rocks/rocks/pkg/rocks"
	"github.com/space-rocks/rocks/pkg/ssodnet"
)

const appName string = "rocks"

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "text")
	defer cleanup()

	svc, err := newService(ctx)
	if err != nil {
		log.Error("failed to initialize", "err", err.Error())
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "id", "identify":
		err = identify(ctx, svc, os.Args[2:])
	case "info":
		err = info(ctx, svc, os.Args[2:])
	case "status":
		err = status(ctx, svc, os.Args[2:])
	case "clear":
		err = clear(ctx, svc)
	default:
		err = echoParameter(ctx, svc, os.Args[1:])
	}

	if err != nil {
		log.Error("command failed", "err", err.Error())
		os.Exit(1)
	}
}

func newService(ctx context.Context) (*rocks.Service, error) {
	serviceURL := env.GetVariableOrDefault(ctx, "ROCKS_SSODNET_URL", ssodnet.DefaultServiceURL)
	cacheDir := env.GetVariableOrDefault(ctx, "ROCKS_CACHE_DIR", "")
	debug := env.GetVariableOrDefault(ctx, "ROCKS_DEBUG_CLIENT", "false")

	maxWorkers, err := strconv.Atoi(env.GetVariableOrDefault(ctx, "ROCKS_MAX_WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("ROCKS_MAX_WORKERS is not a number: %w", err)
	}

	options := []func(*rocks.Service){
		rocks.WithClient(ssodnet.NewClient(serviceURL, ssodnet.Debug(debug))),
		rocks.WithMaxWorkers(maxWorkers),
	}

	if cacheDir != "" {
		options = append(options, rocks.WithCacheDir(cacheDir))
	}

	return rocks.New(options...)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: rocks <command> [arguments]

commands:
  id <identifier>          resolve a name, designation or number
  info <identifier>        print the raw ssoCard
  status [--clear] [--update] [--rebuild-index]
                           inspect and maintain the local cache
  clear                    clear the local cache
  <parameter> <identifier> look up an attribute path, e.g. rocks taxonomy.class_ Ceres`)
}

func identify(ctx context.Context, svc *rocks.Service, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing identifier")
	}

	identities, err := svc.Identify(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	if identities[0].Found() {
		fmt.Println(identities[0].String())
	}

	return nil
}

func info(ctx context.Context, svc *rocks.Service, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing identifier")
	}

	identities, err := svc.Identify(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	if !identities[0].Found() {
		return fmt.Errorf("could not identify %q", strings.Join(args, " "))
	}

	doc, err := svc.RawCard(ctx, identities[0].ID)
	if err != nil {
		return err
	}

	pretty := &bytes.Buffer{}
	if err := json.Indent(pretty, doc.Payload, "", "  "); err != nil {
		return err
	}

	fmt.Println(pretty.String())
	return nil
}

func status(ctx context.Context, svc *rocks.Service, args []string) error {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	clearCache := flags.Bool("clear", false, "clear cached ssoCards and catalogues")
	update := flags.Bool("update", false, "refetch cached ssoCards, catalogues and metadata")
	rebuildIndex := flags.Bool("rebuild-index", false, "rebuild the name index from the remote service")

	if err := flags.Parse(args); err != nil {
		return err
	}

	inventory, err := svc.Inventory(ctx)
	if err != nil {
		return err
	}

	counts := map[storage.Kind]int{}
	oldest := ""

	for _, entry := range inventory {
		counts[entry.Kind]++
		if entry.Kind == storage.KindCard && (oldest == "" || entry.Version < oldest) {
			oldest = entry.Version
		}
	}

	fmt.Printf("%d ssoCards, %d datacloud catalogues, %d metadata documents cached\n",
		counts[storage.KindCard], counts[storage.KindCatalogue], counts[storage.KindMeta])

	if modTime, err := svc.IndexModTime(); err == nil {
		fmt.Printf("name index updated on %s\n", modTime)
	} else {
		fmt.Println("no name index present")
	}

	if current, err := svc.CurrentVersion(ctx); err == nil && oldest != "" && current != oldest {
		fmt.Printf("cached ssoCard version %s is behind the current version %s, consider clearing the cache\n", oldest, current)
	}

	if *clearCache {
		removed, err := svc.ClearCache(ctx, storage.KindCard, storage.KindCatalogue)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d cached documents\n", removed)
	}

	if *update {
		if err := svc.UpdateCache(ctx); err != nil {
			return err
		}
		fmt.Println("cache updated")
	}

	if *rebuildIndex {
		if err := svc.RebuildIndex(ctx); err != nil {
			return err
		}
		fmt.Println("name index rebuilt")
	}

	return nil
}

func clear(ctx context.Context, svc *rocks.Service) error {
	removed, err := svc.ClearCache(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("removed %d cached documents\n", removed)
	return nil
}

// echoParameter handles the default mode: rocks <parameter> <identifier>.
// If the first path segment names a datacloud catalogue, that catalogue is
// attached before the lookup.
func echoParameter(ctx context.Context, svc *rocks.Service, args []string) error {
	if len(args) < 2 {
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	parameter := args[0]
	identifier := strings.Join(args[1:], " ")

	// A path segment that collides with a reserved attribute word is stored
	// with an underscore suffix, so accept both spellings.
	segments := strings.Split(parameter, ".")
	if schema.Reserved(segments[len(segments)-1]) {
		segments[len(segments)-1] += "_"
		parameter = strings.Join(segments, ".")
	}

	catalogues := []string{}
	if rocks.IsCatalogueAttribute(segments[0]) {
		catalogues = append(catalogues, segments[0])
	}

	rock, err := svc.Single(ctx, identifier, catalogues...)
	if err != nil {
		return err
	}

	if !rock.Found() {
		return fmt.Errorf("could not identify %q", identifier)
	}

	member, err := rock.Lookup(parameter)
	if err != nil {
		return err
	}

	fmt.Printf("%v\n", member)
	return nil
}
