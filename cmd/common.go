/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valpere/regiontran/internal/catalog"
	"github.com/valpere/regiontran/internal/detector"
	"github.com/valpere/regiontran/internal/orchestrator"
	"github.com/valpere/regiontran/internal/service"
	"github.com/valpere/regiontran/internal/store"
	"github.com/valpere/regiontran/internal/translator"
	"github.com/valpere/regiontran/internal/validator"
)

// app holds everything a translating command needs.
type app struct {
	catalog    *catalog.Catalog
	dispatcher *translator.Dispatcher
	store      *store.Store
	service    *service.Service
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func openStore(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// buildApp wires the catalog, backends, orchestrator, store and credential
// gate from the loaded configuration. With useCache false the translation
// memory is bypassed but attempts are still recorded.
func buildApp(useCache bool) (*app, error) {
	cat, err := appConfig.BuildCatalog()
	if err != nil {
		return nil, err
	}

	det := detector.New()

	opts := []translator.DispatcherOption{translator.WithLogger(logger)}
	if appConfig.ValidateLanguage {
		opts = append(opts, translator.WithLanguageChecker(validator.New(det)))
	}
	disp := translator.NewDispatcher(translator.NewBackends(appConfig.Credentials), opts...)

	orch := orchestrator.New(cat, disp, orchestrator.Config{
		MaxAttempts: appConfig.MaxRetries,
		RetryDelay:  appConfig.RetryDelay,
	}, logger)

	db, err := openStore(appConfig.DBPath)
	if err != nil {
		return nil, err
	}

	var gate service.CredentialGate = service.Unlimited()
	if appConfig.EnforceCredits {
		gate = db.Ledger(appConfig.Account)
	}

	svcOpts := []service.Option{
		service.WithRecorder(db),
		service.WithDetector(det),
		service.WithLogger(logger),
	}
	if useCache {
		svcOpts = append(svcOpts, service.WithCache(db))
	}

	return &app{
		catalog:    cat,
		dispatcher: disp,
		store:      db,
		service:    service.New(orch, gate, svcOpts...),
	}, nil
}

func msDuration(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
