// Package sitesync keeps the serving root in step with a git repository.
//
// The root is cloned on first start and pulled on an interval afterwards.
// Static files and scripts are read from disk on every request, so a pull
// takes effect immediately for them. Cached rule files are the exception:
// when a pull touches a rule file the rule cache is invalidated as a whole.
//
// # Basic Usage
//
//	repo, err := sitesync.NewRepository(&cfg.SiteSync, cfg.Server.Root)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := repo.Clone(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	syncer := sitesync.NewSyncer(repo, sitesync.SyncerConfig{
//		Interval: cfg.SiteSync.Interval,
//		RuleFile: cfg.Filter.FileName,
//	}, cache, logger)
//	go syncer.Run(ctx)
//
// # Authentication
//
// Three methods are supported through AuthType: "none" for public
// repositories, "token" for HTTPS with a personal access token and "ssh"
// for a private key on disk. Keys readable by group or others are refused.
//
// # Safety
//
// Pulls never force. A root that already holds files but no repository is
// refused rather than overwritten.
package sitesync
