/*
Copyright (c) Facebook, Inc. and its affiliates.

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

/*
Package clock contains clocks ptpd can discipline.

Source drives a Linux clock, either CLOCK_REALTIME or a PHC, through
clock_gettime, clock_settime and clock_adjtime syscalls.

Sim is a simulated clock with a constant frequency error running off a
reference clock. It is used by tests and by `ptpd sim`.
*/
package clock
