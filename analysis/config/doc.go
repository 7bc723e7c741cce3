// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config implements the configuration surface of the analyses: the
// allocator and native-module name tables consulted by def-site
// classification, the options of the summarization and whole-program phases,
// and the leveled logging used throughout the tool.
//
// Configurations are read from yaml files:
//
//	allocator-names:
//	  - new
//	  - with_capacity
//	native-modules:
//	  - std
//	  - alloc
//	log-level: 3
//
// An empty table in the file falls back to the built-in defaults, which
// mirror the standard library constructor inventory.
package config
